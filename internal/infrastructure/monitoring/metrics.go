package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Instance metrics
	InstancesActive  prometheus.Gauge
	InstancesStarted prometheus.Counter
	InstanceExits    *prometheus.CounterVec
	InstanceRejected *prometheus.CounterVec
	StopDuration     prometheus.Histogram

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  *prometheus.CounterVec

	// Stream metrics
	WSConnections     prometheus.Gauge
	WSMessages        *prometheus.CounterVec
	StreamSubscribers prometheus.Gauge
	StreamEvictions   prometheus.Counter
	StreamDelivered   *prometheus.CounterVec

	// Capture and input metrics
	CaptureDuration *prometheus.HistogramVec
	CaptureSkipped  *prometheus.CounterVec
	InputEvents     *prometheus.CounterVec

	// Coordinator operations
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	// Lifecycle events
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a metrics collector registered on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector registered on reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appshare_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appshare_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appshare_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Instance metrics
		InstancesActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "appshare_instances_active",
				Help: "Number of non-terminal application instances",
			},
		),
		InstancesStarted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "appshare_instances_started_total",
				Help: "Total number of application instances started",
			},
		),
		InstanceExits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_instance_exits_total",
				Help: "Application instance exits by final state",
			},
			[]string{"state"},
		),
		InstanceRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_instance_rejections_total",
				Help: "Rejected start requests by reason",
			},
			[]string{"reason"},
		),
		StopDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "appshare_instance_stop_duration_seconds",
				Help:    "Time from stop request to confirmed exit",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 7.5, 10},
			},
		),

		// Session metrics
		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "appshare_sessions_active",
				Help: "Number of active sessions",
			},
		),
		SessionsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "appshare_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_sessions_closed_total",
				Help: "Closed sessions by reason",
			},
			[]string{"reason"},
		),

		// Stream metrics
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "appshare_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		StreamSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "appshare_stream_subscribers",
				Help: "Number of channels subscribed to a room",
			},
		),
		StreamEvictions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "appshare_stream_evictions_total",
				Help: "Subscribers removed after a failed or backed-up send",
			},
		),
		StreamDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_stream_messages_delivered_total",
				Help: "Messages written to subscribers",
			},
			[]string{"type"},
		),

		// Capture and input metrics
		CaptureDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appshare_capture_duration_seconds",
				Help:    "Time to grab and encode one frame or audio chunk",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		CaptureSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_capture_skipped_total",
				Help: "Capture ticks skipped by reason",
			},
			[]string{"reason"},
		),
		InputEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_input_events_total",
				Help: "Input events by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		// Coordinator operations
		ServiceCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_operations_total",
				Help: "Coordinator operations by outcome",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appshare_operation_duration_seconds",
				Help:    "Coordinator operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method"},
		),

		// Lifecycle events
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_events_published_total",
				Help: "Lifecycle events accepted by the dispatcher",
			},
			[]string{"topic"},
		),
		EventsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_events_dropped_total",
				Help: "Lifecycle events dropped because a queue was full",
			},
			[]string{"topic"},
		),
		SinkErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appshare_event_sink_errors_total",
				Help: "Failed deliveries per event sink",
			},
			[]string{"sink"},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "appshare_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	m.Uptime = f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "appshare_uptime_seconds",
			Help: "Gateway uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordServiceCall records a coordinator operation
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// SetInstancesActive sets the number of non-terminal instances
func (m *Metrics) SetInstancesActive(count int) {
	m.InstancesActive.Set(float64(count))
}

// IncInstancesStarted increments the started instances counter
func (m *Metrics) IncInstancesStarted() {
	m.InstancesStarted.Inc()
}

// RecordInstanceExit records an instance reaching a terminal state
func (m *Metrics) RecordInstanceExit(state string) {
	m.InstanceExits.WithLabelValues(state).Inc()
}

// RecordInstanceRejected records a refused start
func (m *Metrics) RecordInstanceRejected(reason string) {
	m.InstanceRejected.WithLabelValues(reason).Inc()
}

// ObserveStopDuration records how long a stop took to confirm exit
func (m *Metrics) ObserveStopDuration(d time.Duration) {
	m.StopDuration.Observe(d.Seconds())
}

// SetSessionsActive sets the number of active sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// IncSessionsCreated increments the created sessions counter
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed records a session closing
func (m *Metrics) RecordSessionClosed(reason string) {
	m.SessionsClosed.WithLabelValues(reason).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetStreamSubscribers sets the number of subscribed channels
func (m *Metrics) SetStreamSubscribers(count int) {
	m.StreamSubscribers.Set(float64(count))
}

// IncStreamEvictions increments the evicted subscriber counter
func (m *Metrics) IncStreamEvictions() {
	m.StreamEvictions.Inc()
}

// RecordDelivered records a message written to a subscriber
func (m *Metrics) RecordDelivered(msgType string) {
	m.StreamDelivered.WithLabelValues(msgType).Inc()
}

// ObserveCapture records one capture duration
func (m *Metrics) ObserveCapture(kind string, d time.Duration) {
	m.CaptureDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordCaptureSkipped records a skipped capture tick
func (m *Metrics) RecordCaptureSkipped(reason string) {
	m.CaptureSkipped.WithLabelValues(reason).Inc()
}

// RecordInput records an input event outcome
func (m *Metrics) RecordInput(kind, outcome string) {
	m.InputEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordEventPublished records an accepted lifecycle event
func (m *Metrics) RecordEventPublished(topic string) {
	m.EventsPublished.WithLabelValues(topic).Inc()
}

// RecordEventDropped records a dropped lifecycle event
func (m *Metrics) RecordEventDropped(topic string) {
	m.EventsDropped.WithLabelValues(topic).Inc()
}

// RecordSinkError records a failed sink delivery
func (m *Metrics) RecordSinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// SetBreakerState records a circuit breaker state
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
