package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultPollInterval = 2 * time.Second

// PullTransport fetches messages newer than the last-seen authoritative id
// on a fixed interval while a conversation is active.
//
// Fetch failures mark the connection degraded but polling continues on
// schedule; errors are expected to be transient, so there is no backoff.
// A credential rejection is the exception: the loop stops and reports
// StateUnauthorized.
type PullTransport struct {
	log     *slog.Logger
	backend Backend
	sink    EventSink
	metrics *Metrics

	// after returns the newer-than watermark. Supplied by the session so
	// the transport never reads the Store directly.
	after func() int64

	interval     time.Duration
	fetchTimeout time.Duration

	mu     sync.Mutex
	state  ConnState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPullTransport constructs a polling transport. A non-positive interval
// falls back to the 2s default. metrics may be nil.
func NewPullTransport(log *slog.Logger, backend Backend, sink EventSink, metrics *Metrics, after func() int64, interval time.Duration) *PullTransport {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PullTransport{
		log:          log,
		backend:      backend,
		sink:         sink,
		metrics:      metrics,
		after:        after,
		interval:     interval,
		fetchTimeout: interval,
		state:        StateDisconnected,
	}
}

// Start begins the polling loop for participantID.
func (t *PullTransport) Start(ctx context.Context, participantID string) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		t.Stop()
		t.mu.Lock()
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.setState(StateConnecting)
	go t.run(ctx, participantID, done)
	return nil
}

func (t *PullTransport) run(ctx context.Context, participantID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// First fetch immediately so a fresh conversation does not wait a
	// full interval for live data.
	if !t.poll(ctx, participantID) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			t.setState(StateDisconnected)
			return
		case <-ticker.C:
			if !t.poll(ctx, participantID) {
				return
			}
		}
	}
}

// poll performs one fetch. It reports false when the loop must stop: a
// credential rejection is fatal, not a transient failure to retry.
func (t *PullTransport) poll(ctx context.Context, participantID string) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	msgs, err := t.backend.MessagesAfter(fetchCtx, participantID, t.after())
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, ErrUnauthorized) {
			t.log.Error("pull.fetch.unauthorized", "participant_id", participantID, "err", err)
			t.setState(StateUnauthorized)
			return false
		}
		t.log.Info("pull.fetch.fail", "participant_id", participantID, "err", err)
		t.metrics.PollError()
		t.setState(StateDegraded)
		return true
	}

	t.setState(StateConnected)
	for _, m := range msgs {
		t.sink.HandleMessage(m)
	}
	return true
}

// Stop tears down the ticker and waits for the loop to exit. Idempotent.
func (t *PullTransport) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State reports the current connection state.
func (t *PullTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SendTyping is a no-op: polling has no outbound event path.
func (t *PullTransport) SendTyping(bool) {}

// setState records a state transition and reports it to the sink outside
// the lock. Repeated identical states are not re-reported.
func (t *PullTransport) setState(s ConnState) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	t.mu.Unlock()

	if changed {
		t.sink.HandleConnState(s)
	}
}
