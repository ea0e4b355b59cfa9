package rest

import (
	"time"

	"lancer/cmd/internal/chat"
)

// Wire DTOs for the chat REST API. Field names follow the backend's JSON.

type userDTO struct {
	UID           string    `json:"uid"`
	Name          string    `json:"name"`
	Avatar        string    `json:"avatar"`
	Online        bool      `json:"online"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_time"`
	HasUnread     bool      `json:"has_unread"`
}

type messageDTO struct {
	ID          int64     `json:"id"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id"`
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Attachment  string    `json:"attachment"`
	Status      string    `json:"status"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"created_at"`
}

type messagePageDTO struct {
	Data     []messageDTO `json:"data"`
	NextPage *int         `json:"next_page"`
}

type unreadDTO struct {
	SenderID string `json:"sender_id"`
}

type errorDTO struct {
	Message string `json:"message"`
}

func (u userDTO) toParticipant() chat.Participant {
	return chat.Participant{
		ID:            u.UID,
		Name:          u.Name,
		Avatar:        u.Avatar,
		Online:        u.Online,
		LastMessage:   u.LastMessage,
		LastMessageAt: u.LastMessageAt,
		Unread:        u.HasUnread,
	}
}

func (m messageDTO) toMessage() chat.Message {
	return chat.Message{
		ID:         m.ID,
		ClientID:   m.ClientMsgID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Message,
		Attachment: m.Attachment,
		CreatedAt:  m.CreatedAt,
		Status:     chat.ParseStatus(m.Status),
		Deleted:    m.Deleted,
	}
}

func toMessages(in []messageDTO) []chat.Message {
	out := make([]chat.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.toMessage())
	}
	return out
}
