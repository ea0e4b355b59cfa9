package chat

import "context"

// ConnState is the connection state a transport reports to the session.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	// StateDegraded means the transport is still scheduled but its last
	// delivery attempt failed (polling fetch error, push reconnecting).
	StateDegraded
	// StateUnauthorized means the backend rejected the credentials. The
	// transport has stopped itself; no retry happens until a new token is
	// supplied and the session reconnects explicitly.
	StateUnauthorized
)

// String returns the state name used in logs and the view layer.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// EventSink receives normalized transport events. The Session implements
// it; transports never mutate the Store directly.
type EventSink interface {
	HandleMessage(m Message)
	HandleStatus(id int64, status Status)
	HandleDeleted(id int64)
	HandleTyping(participantID string, active bool)
	HandlePresence(participantID string, online bool)
	HandleConnState(s ConnState)
}

// Transport is one delivery strategy (pull or push) producing the
// normalized event stream for a conversation.
//
// Contract: at most one transport is active per conversation at a time.
// Stop (or cancelling the Start context) tears down timers and sockets
// deterministically before another transport may be started.
type Transport interface {
	// Start begins delivery for the given participant's conversation and
	// returns once the transport loop is running. The loop ends when ctx
	// is cancelled or Stop is called.
	Start(ctx context.Context, participantID string) error

	// Stop tears the transport down. Idempotent.
	Stop()

	// State reports the current connection state.
	State() ConnState

	// SendTyping emits a typing-state edge toward the backend. Transports
	// without an outbound path treat it as a no-op.
	SendTyping(active bool)
}
