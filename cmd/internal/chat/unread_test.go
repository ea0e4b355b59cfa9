package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestUnreadTrackerPollReplacesIndex(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		senders = []string{"u1", "u2"}
	)
	backend := newFakeBackend()
	backend.unreadFn = func() ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), senders...), nil
	}

	u := NewUnreadTracker(testLogger(), backend, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u.Start(ctx)
	defer u.Stop()

	waitUntil(t, time.Second, func() bool { return u.Count() == 2 })
	if !u.Has("u1") || !u.Has("u2") || u.Has("u3") {
		t.Fatalf("index mismatch after first poll")
	}

	// The next cycle replaces the whole index, not just additions.
	mu.Lock()
	senders = []string{"u3"}
	mu.Unlock()

	waitUntil(t, time.Second, func() bool { return u.Has("u3") && !u.Has("u1") })
	if u.Count() != 1 {
		t.Fatalf("count=%d want=1", u.Count())
	}
}

func TestUnreadTrackerPollFailureKeepsIndex(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		fail bool
	)
	backend := newFakeBackend()
	backend.unreadFn = func() ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("boom")
		}
		return []string{"u1"}, nil
	}

	u := NewUnreadTracker(testLogger(), backend, 15*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u.Start(ctx)
	defer u.Stop()

	waitUntil(t, time.Second, func() bool { return u.Has("u1") })

	mu.Lock()
	fail = true
	mu.Unlock()

	// Give several failed cycles a chance to run; the last good index
	// must survive.
	time.Sleep(80 * time.Millisecond)
	if !u.Has("u1") {
		t.Fatalf("failed poll must not clear the index")
	}
}

func TestUnreadTrackerLocalMarks(t *testing.T) {
	t.Parallel()

	u := NewUnreadTracker(testLogger(), newFakeBackend(), time.Hour)

	var changes int
	u.OnChange(func() { changes++ })

	u.MarkUnread("u1")
	u.MarkUnread("u1") // already flagged, no extra change
	u.MarkUnread("")   // ignored
	if u.Count() != 1 || changes != 1 {
		t.Fatalf("count=%d changes=%d want 1/1", u.Count(), changes)
	}

	u.MarkRead("u1")
	u.MarkRead("u1") // already clear, no extra change
	if u.Count() != 0 || changes != 2 {
		t.Fatalf("count=%d changes=%d want 0/2", u.Count(), changes)
	}
}

func TestUnreadTrackerStopWaits(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.unreadFn = func() ([]string, error) { return nil, nil }

	u := NewUnreadTracker(testLogger(), backend, 10*time.Millisecond)
	u.Start(context.Background())
	u.Stop()
	u.Stop() // idempotent
}
