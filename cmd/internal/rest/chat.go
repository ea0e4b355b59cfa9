package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"lancer/cmd/internal/chat"
)

// Participants lists conversation peers with preview metadata.
// GET /chat/users
func (c *Client) Participants(ctx context.Context) ([]chat.Participant, error) {
	var users []userDTO
	if err := c.getJSON(ctx, c.endpoint("chat", "users"), &users); err != nil {
		return nil, err
	}

	out := make([]chat.Participant, 0, len(users))
	for _, u := range users {
		out = append(out, u.toParticipant())
	}
	return out, nil
}

// MessagePage fetches one page of history for a conversation.
// GET /chat/messages/{participantID}?page=N
func (c *Client) MessagePage(ctx context.Context, participantID string, page int) (chat.MessagePage, error) {
	if page < 1 {
		page = 1
	}

	u := c.endpoint("chat", "messages", participantID) + "?page=" + strconv.Itoa(page)

	var dto messagePageDTO
	if err := c.getJSON(ctx, u, &dto); err != nil {
		return chat.MessagePage{}, err
	}
	return chat.MessagePage{Messages: toMessages(dto.Data), NextPage: dto.NextPage}, nil
}

// MessagesAfter fetches messages newer than afterID, oldest first. Used by
// the pull transport's poll cycle.
// GET /chat/messages/{participantID}?after={id}
func (c *Client) MessagesAfter(ctx context.Context, participantID string, afterID int64) ([]chat.Message, error) {
	u := c.endpoint("chat", "messages", participantID) + "?after=" + strconv.FormatInt(afterID, 10)

	var dto messagePageDTO
	if err := c.getJSON(ctx, u, &dto); err != nil {
		return nil, err
	}
	return toMessages(dto.Data), nil
}

// SendMessage creates a message via multipart POST /chat/send and returns
// the authoritative echo. Uses the longer upload timeout when an
// attachment stream is present.
func (c *Client) SendMessage(ctx context.Context, in chat.SendInput) (chat.Message, error) {
	if in.ReceiverID == "" {
		return chat.Message{}, fmt.Errorf("send: missing receiver id")
	}
	if in.Text == "" && in.Attachment == nil {
		return chat.Message{}, chat.ErrEmptyMessage
	}

	timeout := c.fetchTimeout
	if in.Attachment != nil {
		timeout = c.uploadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeSendForm(mw, in)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chat", "send"), pr)
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return chat.Message{}, err
	}
	defer resp.Body.Close()

	var dto messageDTO
	if err := decodeJSON(resp.Body, &dto); err != nil {
		return chat.Message{}, fmt.Errorf("decode send response: %w", err)
	}
	return dto.toMessage(), nil
}

func writeSendForm(mw *multipart.Writer, in chat.SendInput) error {
	if err := mw.WriteField("receiver_id", in.ReceiverID); err != nil {
		return err
	}
	if in.ClientMsgID != "" {
		if err := mw.WriteField("client_msg_id", in.ClientMsgID); err != nil {
			return err
		}
	}

	kind := "text"
	if in.Attachment != nil {
		kind = "file"
	}
	if err := mw.WriteField("type", kind); err != nil {
		return err
	}

	if in.Text != "" {
		if err := mw.WriteField("message", in.Text); err != nil {
			return err
		}
	}
	if in.Attachment != nil {
		name := in.AttachmentName
		if name == "" {
			name = "attachment"
		}
		fw, err := mw.CreateFormFile("attachment", name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(fw, in.Attachment); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessage soft-deletes a message.
// DELETE /chat/messages/{id}
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	u := c.endpoint("chat", "messages", strconv.FormatInt(id, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// MarkRead acknowledges a conversation as read.
// POST /chat/messages/{participantID}/read
func (c *Client) MarkRead(ctx context.Context, participantID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	u := c.endpoint("chat", "messages", participantID, "read")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UnreadSenders reduces the unread-messages summary to the distinct set of
// participant ids with unread state.
// GET /chat/unread-messages
func (c *Client) UnreadSenders(ctx context.Context) ([]string, error) {
	var rows []unreadDTO
	if err := c.getJSON(ctx, c.endpoint("chat", "unread-messages"), &rows); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.SenderID == "" {
			continue
		}
		if _, ok := seen[r.SenderID]; ok {
			continue
		}
		seen[r.SenderID] = struct{}{}
		out = append(out, r.SenderID)
	}
	return out, nil
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}
