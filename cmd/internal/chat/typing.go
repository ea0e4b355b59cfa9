package chat

import (
	"sync"
	"time"
)

const defaultTypingQuiet = 1 * time.Second

// typingDebouncer turns per-keystroke input into edge-triggered typing
// signals: one "started" per idle-to-active transition and one "stopped"
// after the quiet period elapses with no further input.
type typingDebouncer struct {
	mu     sync.Mutex
	quiet  time.Duration
	emit   func(active bool)
	active bool
	timer  *time.Timer
}

func newTypingDebouncer(quiet time.Duration, emit func(bool)) *typingDebouncer {
	if quiet <= 0 {
		quiet = defaultTypingQuiet
	}
	return &typingDebouncer{quiet: quiet, emit: emit}
}

// Input records a typing-state change from the view layer. active=true is
// a keystroke; active=false is an explicit stop (e.g. the input cleared).
func (d *typingDebouncer) Input(active bool) {
	d.mu.Lock()

	if !active {
		wasActive := d.active
		d.active = false
		d.stopTimerLocked()
		d.mu.Unlock()

		if wasActive {
			d.emit(false)
		}
		return
	}

	starting := !d.active
	d.active = true
	d.stopTimerLocked()
	d.timer = time.AfterFunc(d.quiet, d.expire)
	d.mu.Unlock()

	if starting {
		d.emit(true)
	}
}

// expire fires after the quiet period and emits the stop edge.
func (d *typingDebouncer) expire() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.timer = nil
	d.mu.Unlock()

	d.emit(false)
}

// Stop cancels the pending quiet timer without emitting. Used on
// conversation switch and teardown.
func (d *typingDebouncer) Stop() {
	d.mu.Lock()
	d.active = false
	d.stopTimerLocked()
	d.mu.Unlock()
}

func (d *typingDebouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
