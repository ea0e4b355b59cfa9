package chat

import (
	"sync"
	"time"
)

const (
	// Start edges are paced hard: the debouncer already collapses
	// keystrokes to one edge per burst, so anything faster is the view
	// layer misbehaving.
	typingMinStartGap = 500 * time.Millisecond
	typingStartLimit  = 12
	typingStartWindow = 10 * time.Second
)

// typingThrottle paces outbound typing edges on the push channel. Start
// edges add state on the peer's screen, so they get both a minimum gap
// and a sliding-window cap; stop edges only withdraw state and always
// pass, so a suppressed start can never strand the peer with a stale
// "typing" indicator.
type typingThrottle struct {
	mu        sync.Mutex
	starts    []time.Time
	lastStart time.Time
	minGap    time.Duration
	limit     int
	window    time.Duration
}

func newTypingThrottle(minGap time.Duration, limit int, window time.Duration) *typingThrottle {
	if minGap <= 0 {
		minGap = typingMinStartGap
	}
	if limit <= 0 {
		limit = typingStartLimit
	}
	if window <= 0 {
		window = typingStartWindow
	}
	return &typingThrottle{
		starts: make([]time.Time, 0, limit+4),
		minGap: minGap,
		limit:  limit,
		window: window,
	}
}

// AllowEdge reports whether a typing edge at time "now" should go out.
func (t *typingThrottle) AllowEdge(active bool, now time.Time) bool {
	if !active {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastStart.IsZero() && now.Sub(t.lastStart) < t.minGap {
		return false
	}

	cut := now.Add(-t.window)
	dst := t.starts[:0]
	for _, ts := range t.starts {
		if ts.After(cut) {
			dst = append(dst, ts)
		}
	}
	t.starts = dst

	if len(t.starts) >= t.limit {
		return false
	}
	t.starts = append(t.starts, now)
	t.lastStart = now
	return true
}
