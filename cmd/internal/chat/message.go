package chat

import "time"

// Status is the delivery-status ladder for a message.
//
// Pending and Failed are client-local states for optimistic entries that
// have not been acknowledged by the backend. Sent, Delivered and Read are
// assigned by the backend and only ever move forward.
type Status uint8

const (
	StatusPending Status = iota
	StatusFailed
	StatusSent
	StatusDelivered
	StatusRead
)

// String returns the wire representation of a status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// ParseStatus maps a wire status string to a Status. Unknown values map to
// StatusSent, the weakest server-assigned state.
func ParseStatus(s string) Status {
	switch s {
	case "pending":
		return StatusPending
	case "failed":
		return StatusFailed
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "read":
		return StatusRead
	default:
		return StatusSent
	}
}

// tombstoneBody replaces the body of a soft-deleted message.
const tombstoneBody = "[deleted]"

// Message is one chat message as held by the client.
//
// Identity: ID is the server-assigned id, unique within a conversation,
// and zero until the backend acknowledges the message. ClientID is the
// client-assigned temporary id carried by optimistic entries; it is kept
// after confirmation so redelivered echoes still reconcile.
type Message struct {
	ID       int64
	ClientID string

	SenderID   string
	ReceiverID string

	Body       string
	Attachment string

	CreatedAt time.Time
	Status    Status
	Deleted   bool
}

// Confirmed reports whether the message carries an authoritative id.
func (m Message) Confirmed() bool { return m.ID != 0 }

// Participant is one conversation peer with its preview metadata.
type Participant struct {
	ID     string
	Name   string
	Avatar string

	Online bool
	Typing bool

	LastMessage   string
	LastMessageAt time.Time
	Unread        bool
}
