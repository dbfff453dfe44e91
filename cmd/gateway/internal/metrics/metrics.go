package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "market"

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Subscribers     prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	PublishedTotal  prometheus.Counter
	DroppedTotal    prometheus.Counter
	SessionsTotal   prometheus.Counter
	InboundMessages *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	SourceRestarts  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Number of live subscriptions on the publish bus.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_sessions",
			Help:      "Number of live WebSocket sessions.",
		}),
		PublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Total payloads published to the bus.",
		}),
		DroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Total payloads discarded from full subscriber queues.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "sessions_total",
			Help:      "Total WebSocket sessions accepted.",
		}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "inbound_messages_total",
			Help:      "Inbound client messages by outcome.",
		}, []string{"outcome"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of WebSocket sessions.",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 14400},
		}),
		SourceRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "restarts_total",
			Help:      "Event source restarts after an error or panic.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.Subscribers,
		m.ActiveSessions,
		m.PublishedTotal,
		m.DroppedTotal,
		m.SessionsTotal,
		m.InboundMessages,
		m.SessionDuration,
		m.SourceRestarts,
	)
	return m
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) Published(dropped int) {
	if m == nil {
		return
	}
	m.PublishedTotal.Inc()
	if dropped > 0 {
		m.DroppedTotal.Add(float64(dropped))
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed(seconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(seconds)
}

// Inbound counts one client message; outcome is "accepted", "malformed",
// "ignored" or "limited".
func (m *Metrics) Inbound(outcome string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SourceRestarted(source string) {
	if m == nil {
		return
	}
	m.SourceRestarts.WithLabelValues(source).Inc()
}
