package chat

import (
	"context"
	"io"
)

// MessagePage is one backward page of conversation history.
// NextPage is nil once no earlier page exists.
type MessagePage struct {
	Messages []Message
	NextPage *int
}

// SendInput describes an outgoing message. At least one of Text and
// Attachment must be present.
type SendInput struct {
	ReceiverID  string
	ClientMsgID string

	Text string

	AttachmentName string
	Attachment     io.Reader
}

// Backend is the REST collaborator the client core talks to. The rest
// package provides the production implementation.
type Backend interface {
	// Participants lists conversation peers with preview metadata.
	Participants(ctx context.Context) ([]Participant, error)

	// MessagePage fetches one page of history, newest page first.
	MessagePage(ctx context.Context, participantID string, page int) (MessagePage, error)

	// MessagesAfter fetches messages newer than afterID, oldest first.
	MessagesAfter(ctx context.Context, participantID string, afterID int64) ([]Message, error)

	// SendMessage creates a message and returns the authoritative echo.
	SendMessage(ctx context.Context, in SendInput) (Message, error)

	// DeleteMessage soft-deletes a message by authoritative id.
	DeleteMessage(ctx context.Context, id int64) error

	// MarkRead acknowledges the conversation with participantID as read.
	MarkRead(ctx context.Context, participantID string) error

	// UnreadSenders returns the participant ids with unread messages.
	UnreadSenders(ctx context.Context) ([]string, error)
}
