package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bridge"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Channel metrics
	MessagesTotal   *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec

	// Session metrics
	SessionsPending *prometheus.GaugeVec

	// Eval metrics
	EvalsTotal   *prometheus.CounterVec
	EvalDuration prometheus.Histogram

	// Fetch metrics
	FetchTotal       *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	FetchesRetained  prometheus.Gauge
	FetchBreakerOpen *prometheus.CounterVec

	// Socket metrics
	SocketsActive  prometheus.Gauge
	SocketMessages *prometheus.CounterVec

	// Console metrics
	ConsoleEntries *prometheus.CounterVec

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec

	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON health endpoint
type Snapshot struct {
	Uptime          time.Duration `json:"uptime"`
	MessagesIn      int64         `json:"messagesIn"`
	MessagesOut     int64         `json:"messagesOut"`
	MessagesDropped int64         `json:"messagesDropped"`
	Evals           int64         `json:"evals"`
	EvalFailures    int64         `json:"evalFailures"`
	Fetches         int64         `json:"fetches"`
	SocketsActive   int64         `json:"socketsActive"`
}

// NewMetrics registers the bridge metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Channel messages by direction and kind",
			},
			[]string{"direction", "kind"},
		),
		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dropped_total",
				Help:      "Inbound channel messages dropped before dispatch",
			},
			[]string{"reason"},
		),

		SessionsPending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_pending",
				Help:      "Outstanding correlated calls per registry",
			},
			[]string{"registry"},
		),

		EvalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evals_total",
				Help:      "Evaluations by outcome",
			},
			[]string{"outcome"},
		),
		EvalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "eval_duration_seconds",
				Help:      "Round-trip evaluation time in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		FetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Proxied fetches by method and status",
			},
			[]string{"method", "status"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Proxied fetch time to response headers in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),
		FetchesRetained: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fetch_responses_retained",
				Help:      "Responses held for deferred method calls",
			},
		),
		FetchBreakerOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_breaker_rejections_total",
				Help:      "Fetches rejected by an open circuit breaker",
			},
			[]string{"host"},
		),

		SocketsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sockets_active",
				Help:      "Open relayed sockets",
			},
		),
		SocketMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "socket_messages_total",
				Help:      "Relayed socket frames by direction",
			},
			[]string{"direction"},
		),

		ConsoleEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "console_entries_total",
				Help:      "Guest console entries by level",
			},
			[]string{"level"},
		),

		WSConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
			[]string{"endpoint"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Bridge uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// NewNop returns metrics bound to a throwaway registry
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessage counts a channel message; direction is "in" or "out"
func (m *Metrics) RecordMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(direction, kind).Inc()

	m.mu.Lock()
	if direction == "in" {
		m.snapshot.MessagesIn++
	} else {
		m.snapshot.MessagesOut++
	}
	m.mu.Unlock()
}

// RecordDropped counts an inbound message dropped for reason
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.MessagesDropped++
	m.mu.Unlock()
}

// PendingObserver returns a callback that tracks a registry's pending count
func (m *Metrics) PendingObserver(registry string) func(int) {
	if m == nil {
		return nil
	}
	gauge := m.SessionsPending.WithLabelValues(registry)
	return func(n int) { gauge.Set(float64(n)) }
}

// RecordEval records an evaluation outcome
func (m *Metrics) RecordEval(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.EvalsTotal.WithLabelValues(outcome).Inc()
	m.EvalDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Evals++
	if !success {
		m.snapshot.EvalFailures++
	}
	m.mu.Unlock()
}

// RecordFetch records a proxied fetch
func (m *Metrics) RecordFetch(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(method, status).Inc()
	m.FetchDuration.WithLabelValues(method).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Fetches++
	m.mu.Unlock()
}

// SetFetchesRetained sets the number of retained responses
func (m *Metrics) SetFetchesRetained(n int) {
	if m == nil {
		return
	}
	m.FetchesRetained.Set(float64(n))
}

// RecordBreakerRejection counts a fetch refused by an open breaker
func (m *Metrics) RecordBreakerRejection(host string) {
	if m == nil {
		return
	}
	m.FetchBreakerOpen.WithLabelValues(host).Inc()
}

// IncSockets increments relayed sockets
func (m *Metrics) IncSockets() {
	if m == nil {
		return
	}
	m.SocketsActive.Inc()
	m.mu.Lock()
	m.snapshot.SocketsActive++
	m.mu.Unlock()
}

// DecSockets decrements relayed sockets
func (m *Metrics) DecSockets() {
	if m == nil {
		return
	}
	m.SocketsActive.Dec()
	m.mu.Lock()
	m.snapshot.SocketsActive--
	m.mu.Unlock()
}

// RecordSocketMessage counts a relayed frame
func (m *Metrics) RecordSocketMessage(direction string) {
	if m == nil {
		return
	}
	m.SocketMessages.WithLabelValues(direction).Inc()
}

// RecordConsole counts a console entry
func (m *Metrics) RecordConsole(level string) {
	if m == nil {
		return
	}
	m.ConsoleEntries.WithLabelValues(level).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections(endpoint string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(endpoint).Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections(endpoint string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(endpoint).Dec()
}

// Snapshot returns the current running totals
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.Uptime = time.Since(m.startTime)
	return s
}
