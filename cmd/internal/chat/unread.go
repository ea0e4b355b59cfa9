package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultUnreadInterval = 30 * time.Second

// UnreadTracker maintains the set of participant ids with unread
// messages, independent of which conversation is open.
//
// Each poll cycle replaces the whole index with the fresh server response;
// the server is authoritative, so optimistic local clears may be lost on
// the next cycle. That is acceptable by design of the summary endpoint.
type UnreadTracker struct {
	log     *slog.Logger
	backend Backend

	interval     time.Duration
	fetchTimeout time.Duration

	mu     sync.Mutex
	index  map[string]bool
	cancel context.CancelFunc
	done   chan struct{}

	// onChange, when set, fires after every index mutation.
	onChange func()
}

// NewUnreadTracker constructs a tracker polling on interval (default 30s).
func NewUnreadTracker(log *slog.Logger, backend Backend, interval time.Duration) *UnreadTracker {
	if interval <= 0 {
		interval = defaultUnreadInterval
	}
	return &UnreadTracker{
		log:          log,
		backend:      backend,
		interval:     interval,
		fetchTimeout: 10 * time.Second,
		index:        make(map[string]bool),
	}
}

// OnChange registers a callback fired after every index change. Must be
// set before Start.
func (u *UnreadTracker) OnChange(fn func()) { u.onChange = fn }

// Start begins the poll loop. Idempotent while running.
func (u *UnreadTracker) Start(ctx context.Context) {
	u.mu.Lock()
	if u.cancel != nil {
		u.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	u.cancel = cancel
	u.done = done
	u.mu.Unlock()

	go u.run(ctx, done)
}

// Stop tears down the poll loop and waits for it to exit.
func (u *UnreadTracker) Stop() {
	u.mu.Lock()
	cancel := u.cancel
	done := u.done
	u.cancel = nil
	u.done = nil
	u.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (u *UnreadTracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.poll(ctx)
		}
	}
}

// poll replaces the entire index with the fresh server response.
func (u *UnreadTracker) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, u.fetchTimeout)
	senders, err := u.backend.UnreadSenders(fetchCtx)
	cancel()

	if err != nil {
		if ctx.Err() == nil {
			u.log.Info("unread.poll.fail", "err", err)
		}
		return
	}

	fresh := make(map[string]bool, len(senders))
	for _, id := range senders {
		if id != "" {
			fresh[id] = true
		}
	}

	u.mu.Lock()
	u.index = fresh
	u.mu.Unlock()

	u.notify()
}

// Count returns the number of distinct participants with unread messages.
func (u *UnreadTracker) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.index)
}

// Has reports whether the participant has unread messages.
func (u *UnreadTracker) Has(participantID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.index[participantID]
}

// MarkRead optimistically clears the participant's unread flag. The next
// poll cycle reconciles against the server.
func (u *UnreadTracker) MarkRead(participantID string) {
	u.mu.Lock()
	_, had := u.index[participantID]
	delete(u.index, participantID)
	u.mu.Unlock()

	if had {
		u.notify()
	}
}

// MarkUnread flags a participant locally, e.g. when a push event arrives
// for an inactive conversation between poll cycles.
func (u *UnreadTracker) MarkUnread(participantID string) {
	if participantID == "" {
		return
	}

	u.mu.Lock()
	had := u.index[participantID]
	u.index[participantID] = true
	u.mu.Unlock()

	if !had {
		u.notify()
	}
}

func (u *UnreadTracker) notify() {
	if u.onChange != nil {
		u.onChange()
	}
}
