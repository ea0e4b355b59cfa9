// Package v1 defines the lancer chat push-channel contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the push transport and test fixtures to keep the
// wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated during the handshake.
const Subprotocol = "lancer.chat.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeMessageNew delivers a newly created message (server -> client).
	TypeMessageNew = "message_new"
	// TypeMessageStatus delivers a delivery-status transition (server -> client).
	TypeMessageStatus = "message_status"
	// TypeMessageDeleted marks a message soft-deleted (server -> client).
	TypeMessageDeleted = "message_deleted"

	// TypeTyping carries a typing-state edge (both directions).
	TypeTyping = "typing"
	// TypePresence carries an online/offline transition (server -> client).
	TypePresence = "presence"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeMessageNew,
		TypeMessageStatus,
		TypeMessageDeleted,
		TypeTyping,
		TypePresence,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to authenticate the subscription.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload confirms the subscription and carries the server session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// MessageNewPayload delivers one accepted message.
type MessageNewPayload struct {
	ID          int64     `json:"id"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id"`
	Body        string    `json:"body,omitempty"`
	Attachment  string    `json:"attachment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}

// MessageStatusPayload delivers a delivery-status transition for one message.
type MessageStatusPayload struct {
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

// MessageDeletedPayload marks one message soft-deleted.
type MessageDeletedPayload struct {
	MessageID int64 `json:"message_id"`
}

// TypingPayload carries a typing-state edge for one participant.
type TypingPayload struct {
	ParticipantID string `json:"participant_id"`
	Active        bool   `json:"active"`
}

// PresencePayload carries an online/offline transition for one participant.
type PresencePayload struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
