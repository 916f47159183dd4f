package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)

	devicePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_polls_total",
			Help: "Device polls by returned action",
		},
		[]string{"action"},
	)

	framesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_stored_total",
			Help: "Frame submissions by outcome (created or duplicate)",
		},
		[]string{"outcome"},
	)

	inputEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "input_events_total",
			Help: "Device input events by handling",
		},
		[]string{"handling"},
	)

	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_calls_total",
			Help: "Outbound backend calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	backendCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_duration_seconds",
			Help:    "Outbound backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	authRateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limit_total",
			Help: "Total auth rate limit blocks",
		},
		[]string{"path"},
	)

	backgroundDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "background_tasks_dropped_total",
			Help: "Background backend calls dropped because the pool was full",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		devicePollsTotal,
		framesStoredTotal,
		inputEventsTotal,
		backendCallsTotal,
		backendCallDurationSeconds,
		authRateLimitTotal,
		backgroundDroppedTotal,
	)
}

func ObserveHTTP(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, status).Observe(seconds)
}

func DevicePolled(action string) {
	devicePollsTotal.WithLabelValues(action).Inc()
}

func FrameStored(created bool) {
	outcome := "duplicate"
	if created {
		outcome = "created"
	}
	framesStoredTotal.WithLabelValues(outcome).Inc()
}

func InputHandled(handling string) {
	inputEventsTotal.WithLabelValues(handling).Inc()
}

func BackendCall(operation, result string, seconds float64) {
	backendCallsTotal.WithLabelValues(operation, result).Inc()
	backendCallDurationSeconds.WithLabelValues(operation).Observe(seconds)
}

func AuthRateLimited(path string) {
	authRateLimitTotal.WithLabelValues(path).Inc()
}

func BackgroundDropped() {
	backgroundDroppedTotal.Inc()
}
