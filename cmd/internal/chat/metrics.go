package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the client-side counters exported for the debug listener.
// All methods are nil-receiver safe so components can run without a
// registry in tests.
type Metrics struct {
	sent       prometheus.Counter
	received   prometheus.Counter
	dupDropped prometheus.Counter
	reconnects prometheus.Counter
	pollErrors prometheus.Counter
	connState  prometheus.Gauge
}

// NewMetrics constructs and registers the client metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancer_chat_messages_sent_total",
			Help: "Messages accepted by the backend send endpoint.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancer_chat_messages_received_total",
			Help: "Messages appended to the store from any transport.",
		}),
		dupDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancer_chat_duplicates_dropped_total",
			Help: "Redelivered messages dropped by store dedup.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancer_chat_push_reconnects_total",
			Help: "Push channel reconnect attempts.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lancer_chat_poll_errors_total",
			Help: "Failed polling fetches.",
		}),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lancer_chat_connection_state",
			Help: "Connection state: 0 disconnected, 1 connecting, 2 connected, 3 degraded, 4 unauthorized.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sent, m.received, m.dupDropped, m.reconnects, m.pollErrors, m.connState)
	}
	return m
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.sent.Inc()
	}
}

func (m *Metrics) MessageReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) DuplicateDropped() {
	if m != nil {
		m.dupDropped.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) PollError() {
	if m != nil {
		m.pollErrors.Inc()
	}
}

func (m *Metrics) SetConnState(s ConnState) {
	if m != nil {
		m.connState.Set(float64(s))
	}
}
