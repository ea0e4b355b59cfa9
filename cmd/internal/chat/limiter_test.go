package chat

import (
	"testing"
	"time"
)

func TestTypingThrottleStartGap(t *testing.T) {
	t.Parallel()

	th := newTypingThrottle(200*time.Millisecond, 10, time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !th.AllowEdge(true, now) {
		t.Fatalf("first start edge rejected")
	}
	if th.AllowEdge(true, now.Add(50*time.Millisecond)) {
		t.Fatalf("start edge inside the minimum gap was allowed")
	}
	if !th.AllowEdge(true, now.Add(250*time.Millisecond)) {
		t.Fatalf("start edge past the minimum gap rejected")
	}
}

func TestTypingThrottleStartWindow(t *testing.T) {
	t.Parallel()

	th := newTypingThrottle(10*time.Millisecond, 3, time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !th.AllowEdge(true, now.Add(time.Duration(i)*100*time.Millisecond)) {
			t.Fatalf("start %d inside the window cap was rejected", i)
		}
	}
	if th.AllowEdge(true, now.Add(400*time.Millisecond)) {
		t.Fatalf("start over the window cap was allowed")
	}

	// Sliding window: once the oldest start ages out, capacity returns.
	if !th.AllowEdge(true, now.Add(1100*time.Millisecond)) {
		t.Fatalf("aged-out window still rejecting")
	}
}

func TestTypingThrottleStopAlwaysPasses(t *testing.T) {
	t.Parallel()

	th := newTypingThrottle(time.Minute, 1, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !th.AllowEdge(true, now) {
		t.Fatalf("first start edge rejected")
	}
	// Both limits are saturated; the stop edge must still go out so the
	// peer's indicator clears.
	if !th.AllowEdge(false, now.Add(time.Millisecond)) {
		t.Fatalf("stop edge was throttled")
	}
	if !th.AllowEdge(false, now.Add(2*time.Millisecond)) {
		t.Fatalf("repeated stop edge was throttled")
	}
}

func TestTypingThrottleDefaults(t *testing.T) {
	t.Parallel()

	th := newTypingThrottle(0, 0, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !th.AllowEdge(true, now) {
		t.Fatalf("default throttle rejected the first start")
	}
	if th.AllowEdge(true, now.Add(100*time.Millisecond)) {
		t.Fatalf("default minimum gap not enforced")
	}
	if !th.AllowEdge(true, now.Add(typingMinStartGap+time.Millisecond)) {
		t.Fatalf("default gap still rejecting after it elapsed")
	}
}
