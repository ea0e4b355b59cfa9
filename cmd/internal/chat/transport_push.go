package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	v1 "lancer/contracts/chat/v1"
)

const (
	pushDefaultDialTimeout      = 10 * time.Second
	pushDefaultWriteTimeout     = 5 * time.Second
	pushDefaultHandshakeTimeout = 5 * time.Second

	pushDefaultBackoffInitial    = 2 * time.Second
	pushDefaultBackoffMax        = 30 * time.Second
	pushDefaultBackoffMultiplier = 2.0
	pushDefaultMaxAttempts       = 6

	pushMaxFrameBytes = 64 << 10 // 64 KiB
)

// PushConfig configures the push transport.
type PushConfig struct {
	// URL of the websocket endpoint (ws:// or wss://).
	URL string

	// Token returns the bearer token for the subscription handshake.
	Token func() (string, error)

	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	// Reconnect schedule: base delay doubling per attempt, capped, bounded
	// to MaxAttempts. After exhaustion the transport reports permanent
	// disconnection and stops; Reconnect re-arms it manually.
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	MaxAttempts       int
}

func (c *PushConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = pushDefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = pushDefaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = pushDefaultHandshakeTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = pushDefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = pushDefaultBackoffMax
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = pushDefaultBackoffMultiplier
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = pushDefaultMaxAttempts
	}
}

// PushTransport subscribes to the per-user private channel and routes
// inbound envelopes to the normalized event sink.
//
// On disconnect it reconnects with capped exponential backoff up to a
// maximum attempt count, after which it reports permanent disconnection
// and stops retrying. Reconnect re-arms it.
type PushTransport struct {
	log      *slog.Logger
	cfg      PushConfig
	sink     EventSink
	metrics  *Metrics
	typingTh *typingThrottle

	mu      sync.Mutex
	state   ConnState
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	rootCtx context.Context
	pid     string
}

// NewPushTransport constructs a push transport. metrics may be nil.
func NewPushTransport(log *slog.Logger, cfg PushConfig, sink EventSink, metrics *Metrics) *PushTransport {
	cfg.applyDefaults()
	return &PushTransport{
		log:      log,
		cfg:      cfg,
		sink:     sink,
		metrics:  metrics,
		typingTh: newTypingThrottle(0, 0, 0),
		state:    StateDisconnected,
	}
}

// Start begins the subscription loop for participantID's conversation.
func (t *PushTransport) Start(ctx context.Context, participantID string) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		t.Stop()
		t.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.rootCtx = ctx
	t.pid = participantID
	t.mu.Unlock()

	t.setState(StateConnecting)
	go t.run(runCtx, done)
	return nil
}

// Stop tears down the socket and waits for the loop to exit. Idempotent.
func (t *PushTransport) Stop() {
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
func (t *PushTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reconnect re-arms the transport after attempt exhaustion. It is a no-op
// while the loop is still running.
func (t *PushTransport) Reconnect() error {
	t.mu.Lock()
	running := t.cancel != nil
	ctx := t.rootCtx
	pid := t.pid
	t.mu.Unlock()

	if running {
		return nil
	}
	if ctx == nil {
		return errors.New("push: transport never started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("push: transport context finished: %w", err)
	}
	return t.Start(ctx, pid)
}

// SendTyping emits a typing-state edge for the active conversation.
// Dropped silently when the socket is down or the throttle rejects it.
func (t *PushTransport) SendTyping(active bool) {
	t.mu.Lock()
	conn := t.conn
	pid := t.pid
	t.mu.Unlock()

	if conn == nil {
		return
	}
	if !t.typingTh.AllowEdge(active, time.Now().UTC()) {
		t.log.Info("push.typing.rate_limited", "participant_id", pid)
		return
	}

	payload, _ := json.Marshal(v1.TypingPayload{ParticipantID: pid, Active: active})
	env := newEnvelope(v1.TypeTyping, payload, time.Now().UTC())

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	defer cancel()
	if err := writeEnvelope(ctx, conn, env); err != nil {
		t.log.Info("push.typing.write_fail", "err", err)
	}
}

// ---- connection loop ----

func (t *PushTransport) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer t.clearCancelIfDone(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.BackoffInitial
	bo.MaxInterval = t.cfg.BackoffMax
	bo.Multiplier = t.cfg.BackoffMultiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempts := 0

	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.setState(StateDisconnected)
				return
			}
			if errors.Is(err, ErrUnauthorized) {
				// Credential rejection is fatal, never retried. The
				// distinct state keeps the session from swapping in a
				// pull loop against the same rejecting backend.
				t.log.Error("push.dial.unauthorized", "err", err)
				t.setState(StateUnauthorized)
				return
			}

			attempts++
			t.metrics.Reconnect()
			if attempts >= t.cfg.MaxAttempts {
				t.log.Error("push.reconnect.exhausted", "attempts", attempts, "err", err)
				t.setState(StateDisconnected)
				return
			}

			delay := bo.NextBackOff()
			t.log.Info("push.dial.retry", "attempt", attempts, "delay", delay, "err", err)
			t.setState(StateConnecting)

			select {
			case <-ctx.Done():
				t.setState(StateDisconnected)
				return
			case <-time.After(delay):
			}
			continue
		}

		attempts = 0
		bo.Reset()

		t.setConn(conn)
		t.setState(StateConnected)

		readErr := t.readLoop(ctx, conn)

		t.setConn(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")

		if ctx.Err() != nil {
			t.setState(StateDisconnected)
			return
		}

		t.log.Info("push.conn.lost", "close_status", websocket.CloseStatus(readErr), "err", readErr)
		t.setState(StateConnecting)
	}
}

// clearCancelIfDone releases the cancel handle when the loop exits on its
// own (exhaustion, auth failure) so Reconnect can re-arm without a Stop.
func (t *PushTransport) clearCancelIfDone(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() == nil && t.cancel != nil {
		t.cancel()
		t.cancel = nil
		t.done = nil
	}
}

func (t *PushTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := t.cfg.Token()
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, t.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial rejected (%d): %w", resp.StatusCode, ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("unexpected subprotocol: %q", sp)
	}

	conn.SetReadLimit(pushMaxFrameBytes)

	if err := t.hello(ctx, conn, token); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return nil, err
	}
	return conn, nil
}

// hello performs the authenticated subscription handshake.
func (t *PushTransport) hello(ctx context.Context, conn *websocket.Conn, token string) error {
	hsCtx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	payload, _ := json.Marshal(v1.HelloPayload{Token: token})
	if err := writeEnvelope(hsCtx, conn, newEnvelope(v1.TypeHello, payload, time.Now().UTC())); err != nil {
		return fmt.Errorf("hello write: %w", err)
	}

	env, err := readEnvelope(hsCtx, conn)
	if err != nil {
		return fmt.Errorf("hello read: %w", err)
	}
	if env.Type == v1.TypeError {
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.Code == "unauthorized" {
			return fmt.Errorf("hello rejected: %s: %w", p.Message, ErrUnauthorized)
		}
		return fmt.Errorf("hello rejected: %s: %s", p.Code, p.Message)
	}
	if env.Type != v1.TypeHelloAck {
		return fmt.Errorf("unexpected handshake reply: %q", env.Type)
	}

	var ack v1.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		return fmt.Errorf("hello ack payload: %w", err)
	}
	t.log.Info("push.session.open", "session_id", ack.SessionID)
	return nil
}

func (t *PushTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return err
		}
		if err := env.Validate(); err != nil {
			t.log.Info("push.envelope.invalid", "err", err)
			continue
		}
		t.dispatch(env)
	}
}

func (t *PushTransport) dispatch(env v1.Envelope) {
	switch env.Type {
	case v1.TypeMessageNew:
		var p v1.MessageNewPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.log.Info("push.payload.invalid", "type", env.Type, "err", err)
			return
		}
		t.sink.HandleMessage(Message{
			ID:         p.ID,
			ClientID:   p.ClientMsgID,
			SenderID:   p.SenderID,
			ReceiverID: p.ReceiverID,
			Body:       p.Body,
			Attachment: p.Attachment,
			CreatedAt:  p.CreatedAt,
			Status:     ParseStatus(p.Status),
		})

	case v1.TypeMessageStatus:
		var p v1.MessageStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.log.Info("push.payload.invalid", "type", env.Type, "err", err)
			return
		}
		t.sink.HandleStatus(p.MessageID, ParseStatus(p.Status))

	case v1.TypeMessageDeleted:
		var p v1.MessageDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.log.Info("push.payload.invalid", "type", env.Type, "err", err)
			return
		}
		t.sink.HandleDeleted(p.MessageID)

	case v1.TypeTyping:
		var p v1.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.log.Info("push.payload.invalid", "type", env.Type, "err", err)
			return
		}
		t.sink.HandleTyping(p.ParticipantID, p.Active)

	case v1.TypePresence:
		var p v1.PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.log.Info("push.payload.invalid", "type", env.Type, "err", err)
			return
		}
		t.sink.HandlePresence(p.ParticipantID, p.Online)

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		t.log.Info("push.server.error", "code", p.Code, "message", p.Message)
	}
}

func (t *PushTransport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

func (t *PushTransport) setState(s ConnState) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	t.mu.Unlock()

	if changed {
		t.sink.HandleConnState(s)
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewClientMsgID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
