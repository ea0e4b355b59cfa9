package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

// fakeBackend is a scriptable in-memory Backend.
type fakeBackend struct {
	mu sync.Mutex

	participants []Participant
	pages        map[string]map[int]MessagePage
	pageDelay    map[string]time.Duration

	afterFn  func(participantID string, afterID int64) ([]Message, error)
	sendFn   func(in SendInput) (Message, error)
	unreadFn func() ([]string, error)

	pageCalls map[string]map[int]int
	sendCalls int
	markRead  []string
	deleted   []int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pages:     make(map[string]map[int]MessagePage),
		pageDelay: make(map[string]time.Duration),
		pageCalls: make(map[string]map[int]int),
	}
}

func (b *fakeBackend) setPage(pid string, page int, p MessagePage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pages[pid] == nil {
		b.pages[pid] = make(map[int]MessagePage)
	}
	b.pages[pid][page] = p
}

func (b *fakeBackend) pageCallCount(pid string, page int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageCalls[pid][page]
}

func (b *fakeBackend) sendCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendCalls
}

func (b *fakeBackend) Participants(context.Context) ([]Participant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Participant(nil), b.participants...), nil
}

func (b *fakeBackend) MessagePage(ctx context.Context, pid string, page int) (MessagePage, error) {
	b.mu.Lock()
	if b.pageCalls[pid] == nil {
		b.pageCalls[pid] = make(map[int]int)
	}
	b.pageCalls[pid][page]++
	delay := b.pageDelay[pid]
	res := b.pages[pid][page]
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return MessagePage{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return res, nil
}

func (b *fakeBackend) MessagesAfter(_ context.Context, pid string, afterID int64) ([]Message, error) {
	b.mu.Lock()
	fn := b.afterFn
	b.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(pid, afterID)
}

func (b *fakeBackend) SendMessage(_ context.Context, in SendInput) (Message, error) {
	b.mu.Lock()
	b.sendCalls++
	fn := b.sendFn
	b.mu.Unlock()

	if fn == nil {
		return Message{}, nil
	}
	return fn(in)
}

func (b *fakeBackend) DeleteMessage(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) MarkRead(_ context.Context, pid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markRead = append(b.markRead, pid)
	return nil
}

func (b *fakeBackend) UnreadSenders(context.Context) ([]string, error) {
	b.mu.Lock()
	fn := b.unreadFn
	b.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn()
}

// sinkRecorder captures everything a transport reports.
type sinkRecorder struct {
	mu       sync.Mutex
	msgs     []Message
	statuses map[int64]Status
	deleted  []int64
	typing   map[string]bool
	online   map[string]bool
	states   []ConnState
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{
		statuses: make(map[int64]Status),
		typing:   make(map[string]bool),
		online:   make(map[string]bool),
	}
}

func (r *sinkRecorder) HandleMessage(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *sinkRecorder) HandleStatus(id int64, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = s
}

func (r *sinkRecorder) HandleDeleted(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func (r *sinkRecorder) HandleTyping(pid string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing[pid] = active
}

func (r *sinkRecorder) HandlePresence(pid string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[pid] = online
}

func (r *sinkRecorder) HandleConnState(s ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *sinkRecorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func (r *sinkRecorder) lastState() (ConnState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateDisconnected, false
	}
	return r.states[len(r.states)-1], true
}

func (r *sinkRecorder) sawState(s ConnState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == s {
			return true
		}
	}
	return false
}

// notifierRecorder captures alerting calls.
type notifierRecorder struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	sounds int
}

func (n *notifierRecorder) Notify(title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
}

func (n *notifierRecorder) PlaySound() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sounds++
}

func (n *notifierRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}
