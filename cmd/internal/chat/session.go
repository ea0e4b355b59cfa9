package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SessionConfig wires the Session's collaborators and tuning knobs.
type SessionConfig struct {
	// SelfID is the authenticated user's id; used to tell own echoes from
	// peer messages on the per-user push channel.
	SelfID string

	Backend  Backend
	Notifier Notifier
	Metrics  *Metrics

	// Unread, when set, is driven by the session for optimistic clears
	// and local flags. Its poll loop runs independently.
	Unread *UnreadTracker

	// Push configures the push strategy. An empty Push.URL disables push
	// and makes polling the primary strategy.
	Push PushConfig

	// PullFallback swaps in the pull strategy after push reconnect
	// attempts are exhausted. The session then reports degraded until
	// Reconnect is called.
	PullFallback bool

	PullInterval time.Duration
	TypingQuiet  time.Duration
	PageTimeout  time.Duration
}

// Session is the single entry point the view layer uses. It owns the
// Message Store's mutation path and mediates between the Transport
// Adapter and the store; transports and the view layer never mutate
// shared state directly.
type Session struct {
	log *slog.Logger
	cfg SessionConfig

	store  *Store
	typing *typingDebouncer

	push *PushTransport
	pull *PullTransport

	// startMu serializes transport Stop/Start transitions so a superseded
	// switch can never restart a transport the winning switch owns. Never
	// held together with mu by a transport callback: HandleConnState runs
	// on the transport's own goroutine, so the fallback start is deferred
	// to a fresh goroutine that takes startMu on its own.
	startMu sync.Mutex

	mu        sync.Mutex
	rootCtx   context.Context
	gen       uint64
	active    string
	transport Transport
	switching bool
	fallback  bool
	connState ConnState
	typingBy  map[string]bool
	online    map[string]bool
	loading   bool
	onChange  func()

	// uploads retains attachment bytes for pending sends, keyed by client
	// message id, so Retry can re-issue the file after a failure. Cleared
	// on successful delivery and on conversation switch.
	uploads map[string][]byte
}

// NewSession constructs a fully wired session. Call Start before use.
func NewSession(log *slog.Logger, cfg SessionConfig) *Session {
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 15 * time.Second
	}

	s := &Session{
		log:       log,
		cfg:       cfg,
		store:     NewStore(),
		connState: StateDisconnected,
		typingBy:  make(map[string]bool),
		online:    make(map[string]bool),
		uploads:   make(map[string][]byte),
	}

	s.typing = newTypingDebouncer(cfg.TypingQuiet, s.emitTyping)

	if cfg.Push.URL != "" {
		s.push = NewPushTransport(log, cfg.Push, s, cfg.Metrics)
	}
	s.pull = NewPullTransport(log, cfg.Backend, s, cfg.Metrics, s.store.LastID, cfg.PullInterval)

	return s
}

// Start binds the session lifetime to ctx and starts the unread tracker.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.rootCtx = ctx
	s.mu.Unlock()

	if s.cfg.Unread != nil {
		s.cfg.Unread.Start(ctx)
	}
}

// Close tears down the active transport, all timers and the unread poll.
// Leaking a polling interval or an open socket after teardown is a defect,
// so Close blocks until the loops have exited.
func (s *Session) Close() {
	s.mu.Lock()
	s.gen++
	cur := s.transport
	s.transport = nil
	s.active = ""
	s.switching = true
	s.uploads = make(map[string][]byte)
	s.mu.Unlock()

	s.typing.Stop()
	if cur != nil {
		s.startMu.Lock()
		cur.Stop()
		s.startMu.Unlock()
	}
	if s.cfg.Unread != nil {
		s.cfg.Unread.Stop()
	}

	s.mu.Lock()
	s.switching = false
	s.connState = StateDisconnected
	s.mu.Unlock()
}

// OnChange registers a callback fired after every state change the view
// layer can observe. Must be set before Start.
func (s *Session) OnChange(fn func()) { s.onChange = fn }

// ---- operations ----

// SelectConversation makes participantID the active conversation: tears
// down the current transport, resets the store, fetches the newest page
// and starts a transport. Rapid switching is safe: a generation counter
// discards in-flight results for superseded conversations.
func (s *Session) SelectConversation(ctx context.Context, participantID string) error {
	if participantID == "" {
		return fmt.Errorf("select conversation: missing participant id")
	}

	s.mu.Lock()
	s.gen++
	myGen := s.gen
	s.active = participantID
	cur := s.transport
	s.transport = nil
	s.switching = true
	s.fallback = false
	s.typingBy = make(map[string]bool)
	s.uploads = make(map[string][]byte)
	s.store.Reset()
	s.mu.Unlock()

	s.typing.Stop()
	if cur != nil {
		s.startMu.Lock()
		cur.Stop()
		s.startMu.Unlock()
	}
	s.notifyChange()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	page, err := s.cfg.Backend.MessagePage(fetchCtx, participantID, 1)
	cancel()

	// The generation check and the transport start must be one atomic
	// transition: a superseded switch resuming here after the winner has
	// started its transport would otherwise restart it for the wrong
	// conversation.
	s.startMu.Lock()

	s.mu.Lock()
	if s.gen != myGen {
		// Superseded by a later switch; whatever arrived is irrelevant.
		s.mu.Unlock()
		s.startMu.Unlock()
		return nil
	}

	if err != nil {
		// Transient by default: the transport backfills once it is up.
		s.log.Info("session.page.fail", "participant_id", participantID, "err", err)
	} else {
		for _, m := range page.Messages {
			s.store.Append(m)
		}
		s.store.SetCursor(page.NextPage)
	}

	tr := Transport(s.pull)
	if s.push != nil {
		tr = s.push
	}
	s.transport = tr
	s.switching = false
	rootCtx := s.rootCtx
	s.mu.Unlock()

	if rootCtx == nil {
		rootCtx = ctx
	}
	startErr := tr.Start(rootCtx, participantID)
	s.startMu.Unlock()
	if startErr != nil {
		s.log.Error("session.transport.start_fail", "err", startErr)
	}

	s.log.Info("session.select", "participant_id", participantID, "messages", s.store.Len())
	s.MarkRead(ctx, participantID)
	s.notifyChange()
	return err
}

// Send validates, optimistically appends, then issues the backend send.
// The optimistic entry is reconciled in place with the authoritative echo
// on success and marked failed (retryable) on error; it is never silently
// dropped.
func (s *Session) Send(ctx context.Context, text string, attachmentName string, attachment io.Reader) (Message, error) {
	if text == "" && attachment == nil {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	pid := s.active
	myGen := s.gen
	s.mu.Unlock()
	if pid == "" {
		return Message{}, ErrNoConversation
	}

	// Buffer the attachment up front: the reader is one-shot, and a later
	// Retry needs the same bytes again.
	var data []byte
	if attachment != nil {
		b, err := io.ReadAll(attachment)
		if err != nil {
			return Message{}, fmt.Errorf("read attachment %q: %w", attachmentName, err)
		}
		data = b
	}

	now := time.Now().UTC()
	clientID := NewClientMsgID(now)
	optimistic := Message{
		ClientID:   clientID,
		SenderID:   s.cfg.SelfID,
		ReceiverID: pid,
		Body:       text,
		Attachment: attachmentName,
		CreatedAt:  now,
		Status:     StatusPending,
	}

	s.mu.Lock()
	if s.gen != myGen {
		s.mu.Unlock()
		return Message{}, ErrNoConversation
	}
	s.store.Append(optimistic)
	if data != nil {
		s.uploads[clientID] = data
	}
	s.mu.Unlock()

	s.typing.Input(false)
	s.notifyChange()

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	return s.deliver(ctx, myGen, clientID, SendInput{
		ReceiverID:     pid,
		ClientMsgID:    clientID,
		Text:           text,
		AttachmentName: attachmentName,
		Attachment:     body,
	})
}

// Retry re-issues a failed optimistic entry, including any attachment
// bytes buffered by the original Send.
func (s *Session) Retry(ctx context.Context, clientID string) (Message, error) {
	s.mu.Lock()
	myGen := s.gen
	pid := s.active
	data, buffered := s.uploads[clientID]
	m, ok := s.store.Get(clientID)
	if ok {
		ok = s.store.MarkPending(clientID)
	}
	s.mu.Unlock()

	if pid == "" {
		return Message{}, ErrNoConversation
	}
	if !ok {
		return Message{}, fmt.Errorf("retry: no failed message %q", clientID)
	}
	if m.Attachment != "" && !buffered {
		s.store.MarkFailed(clientID)
		return Message{}, fmt.Errorf("retry: attachment %q no longer available", m.Attachment)
	}
	s.notifyChange()

	var body io.Reader
	if buffered {
		body = bytes.NewReader(data)
	}
	return s.deliver(ctx, myGen, clientID, SendInput{
		ReceiverID:     pid,
		ClientMsgID:    clientID,
		Text:           m.Body,
		AttachmentName: m.Attachment,
		Attachment:     body,
	})
}

// deliver issues the backend send and reconciles the optimistic entry.
func (s *Session) deliver(ctx context.Context, myGen uint64, clientID string, in SendInput) (Message, error) {
	echo, err := s.cfg.Backend.SendMessage(ctx, in)

	s.mu.Lock()
	if s.gen != myGen {
		// Conversation switched while in flight; the store was reset.
		s.mu.Unlock()
		return echo, err
	}

	if err != nil {
		s.store.MarkFailed(clientID)
		s.mu.Unlock()

		s.log.Info("session.send.fail", "client_msg_id", clientID, "err", err)
		s.notifyChange()
		return Message{}, fmt.Errorf("send: %w", err)
	}

	echo.ClientID = clientID
	if echo.Status < StatusSent {
		echo.Status = StatusSent
	}
	s.store.Append(echo)
	delete(s.uploads, clientID)
	s.mu.Unlock()

	s.cfg.Metrics.MessageSent()
	s.notifyChange()
	return echo, nil
}

// LoadOlderMessages fetches the next page backward and prepends it.
// Single-flight: concurrent calls while a fetch is in flight are
// suppressed. No-op once the cursor indicates no earlier page.
func (s *Session) LoadOlderMessages(ctx context.Context) error {
	s.mu.Lock()
	if s.loading || s.active == "" {
		s.mu.Unlock()
		return nil
	}
	cursor := s.store.Cursor()
	if cursor == nil {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	myGen := s.gen
	pid := s.active
	page := *cursor
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	res, err := s.cfg.Backend.MessagePage(fetchCtx, pid, page)
	cancel()

	s.mu.Lock()
	if s.gen != myGen {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load older: %w", err)
	}
	s.store.Prepend(res.Messages)
	s.store.SetCursor(res.NextPage)
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// SetTyping records typing input from the view layer. Edges are debounced:
// one "started" per idle-to-active transition and an automatic "stopped"
// after the quiet period.
func (s *Session) SetTyping(active bool) {
	s.typing.Input(active)
}

// emitTyping forwards a debounced typing edge to the active transport.
func (s *Session) emitTyping(active bool) {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()

	if tr != nil {
		tr.SendTyping(active)
	}
}

// MarkRead optimistically clears the unread flag and issues the backend
// acknowledgment. Read receipts are best-effort: failures are logged, not
// rolled back.
func (s *Session) MarkRead(ctx context.Context, participantID string) {
	if s.cfg.Unread != nil {
		s.cfg.Unread.MarkRead(participantID)
	}
	if err := s.cfg.Backend.MarkRead(ctx, participantID); err != nil {
		s.log.Info("session.mark_read.fail", "participant_id", participantID, "err", err)
	}
	s.notifyChange()
}

// DeleteMessage soft-deletes a message: the backend call first, then the
// local tombstone.
func (s *Session) DeleteMessage(ctx context.Context, id int64) error {
	if err := s.cfg.Backend.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	s.store.MarkDeleted(id)
	s.notifyChange()
	return nil
}

// Reconnect manually re-arms the push transport after permanent
// disconnection, tearing down an active pull fallback first.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	push := s.push
	cur := s.transport
	pid := s.active
	wasFallback := s.fallback
	s.mu.Unlock()

	if push == nil || pid == "" {
		return ErrNoConversation
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	if wasFallback && cur != nil && cur != Transport(push) {
		s.mu.Lock()
		s.switching = true
		s.mu.Unlock()
		cur.Stop()
	}

	s.mu.Lock()
	s.transport = push
	s.fallback = false
	s.switching = false
	s.mu.Unlock()

	return push.Reconnect()
}

// ---- reactive state ----

// Messages returns a snapshot of the active conversation's messages.
func (s *Session) Messages() []Message { return s.store.Snapshot() }

// Active returns the active conversation's participant id.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ConnState reports the connection state exposed to the view layer.
// While the pull fallback substitutes for a dead push channel, a healthy
// poll reads as degraded rather than connected.
func (s *Session) ConnState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback && s.connState == StateConnected {
		return StateDegraded
	}
	return s.connState
}

// UnreadCount returns the number of conversations with unread messages.
func (s *Session) UnreadCount() int {
	if s.cfg.Unread == nil {
		return 0
	}
	return s.cfg.Unread.Count()
}

// TypingParticipants lists participants currently typing, sorted.
func (s *Session) TypingParticipants() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.typingBy))
	for id, active := range s.typingBy {
		if active {
			out = append(out, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

// Online reports the last known presence of a participant.
func (s *Session) Online(participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[participantID]
}

// Participants lists conversation peers with preview metadata.
func (s *Session) Participants(ctx context.Context) ([]Participant, error) {
	return s.cfg.Backend.Participants(ctx)
}

// ---- EventSink (transport callbacks) ----

// HandleMessage routes a transport-delivered message: active conversation
// messages go through the store's dedup append; everything else flags
// unread and notifies.
func (s *Session) HandleMessage(m Message) {
	peer := m.SenderID
	if peer == s.cfg.SelfID {
		peer = m.ReceiverID
	}

	s.mu.Lock()
	activePeer := peer == s.active && s.active != ""
	var appended bool
	if activePeer {
		appended = s.store.Append(m)
	}
	s.mu.Unlock()

	if activePeer {
		if appended {
			s.cfg.Metrics.MessageReceived()
			s.notifyChange()
		} else {
			s.cfg.Metrics.DuplicateDropped()
		}
		return
	}

	// Message for an inactive conversation: flag unread, alert.
	if m.SenderID != s.cfg.SelfID {
		if s.cfg.Unread != nil {
			s.cfg.Unread.MarkUnread(peer)
		}
		s.cfg.Metrics.MessageReceived()
		s.cfg.Notifier.Notify(peer, previewBody(m))
		s.cfg.Notifier.PlaySound()
		s.notifyChange()
	}
}

// HandleStatus applies a delivery-status transition (never regressing).
func (s *Session) HandleStatus(id int64, status Status) {
	if s.store.UpdateStatus(id, status) {
		s.notifyChange()
	}
}

// HandleDeleted applies a remote soft-deletion.
func (s *Session) HandleDeleted(id int64) {
	if s.store.MarkDeleted(id) {
		s.notifyChange()
	}
}

// HandleTyping records a participant's typing flag.
func (s *Session) HandleTyping(participantID string, active bool) {
	s.mu.Lock()
	if active {
		s.typingBy[participantID] = true
	} else {
		delete(s.typingBy, participantID)
	}
	s.mu.Unlock()
	s.notifyChange()
}

// HandlePresence records a participant's online flag.
func (s *Session) HandlePresence(participantID string, online bool) {
	s.mu.Lock()
	s.online[participantID] = online
	s.mu.Unlock()
	s.notifyChange()
}

// HandleConnState tracks transport state and applies the recovery policy:
// when the push channel exhausts its reconnect attempts and PullFallback
// is enabled, the pull strategy is swapped in. StateUnauthorized never
// triggers the fallback: a rejected credential stays rejected, so retrying
// over a different channel would only hammer the backend.
func (s *Session) HandleConnState(state ConnState) {
	s.mu.Lock()
	s.connState = state

	fallback := state == StateDisconnected &&
		!s.switching &&
		s.cfg.PullFallback &&
		s.push != nil &&
		s.transport == Transport(s.push) &&
		s.active != ""

	var (
		myGen   uint64
		pid     string
		rootCtx context.Context
	)
	if fallback {
		s.fallback = true
		s.transport = s.pull
		myGen = s.gen
		pid = s.active
		rootCtx = s.rootCtx
	}
	s.mu.Unlock()

	s.cfg.Metrics.SetConnState(state)
	s.notifyChange()

	// This callback runs on the transport's own goroutine, which a
	// concurrent Stop may be waiting on under startMu. The swap is
	// started from a fresh goroutine that acquires startMu on its own
	// and re-checks the generation.
	if fallback && rootCtx != nil && rootCtx.Err() == nil {
		go s.startFallback(myGen, pid, rootCtx)
	}
}

// startFallback starts the pull transport for a dead push channel unless a
// conversation switch or reconnect superseded the swap in the meantime.
func (s *Session) startFallback(myGen uint64, pid string, rootCtx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	stale := s.gen != myGen || !s.fallback || s.transport != Transport(s.pull) || s.active != pid
	s.mu.Unlock()
	if stale || rootCtx.Err() != nil {
		return
	}

	s.log.Info("session.fallback.pull", "participant_id", pid)
	if err := s.pull.Start(rootCtx, pid); err != nil {
		s.log.Error("session.fallback.start_fail", "err", err)
	}
}

func (s *Session) notifyChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

// previewBody returns the notification preview for a message.
func previewBody(m Message) string {
	if m.Body != "" {
		return m.Body
	}
	if m.Attachment != "" {
		return "sent an attachment"
	}
	return "new message"
}
