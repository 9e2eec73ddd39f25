package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "chatrelay_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_requests_total",
			Help: "Chat requests handled, by component and outcome",
		},
		[]string{"component", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_request_duration_seconds",
			Help:    "Time spent relaying a chat request to the backend",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"component", "model"},
	)

	streamFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_stream_fragments_total",
			Help: "Text fragments relayed to streaming clients",
		},
		[]string{"model"},
	)

	streamDroppedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_stream_dropped_lines_total",
			Help: "Backend stream lines skipped because they were not valid JSON",
		},
	)

	modelTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_model_tokens_total",
			Help: "Tokens reported by the backend per model",
		},
		[]string{"kind", "model"},
	)

	inFlightGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatrelay_in_flight_requests",
			Help: "Chat requests currently waiting on the backend",
		},
		[]string{"component"},
	)

	inFlight atomic.Int64
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, requests, requestDuration, streamFragments, streamDroppedLines, modelTokens, inFlightGauge)
}

// SetServerBuildInfo sets the build info metric for the server.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordRequest increments the request counter for a component outcome.
func RecordRequest(component, outcome string) {
	requests.WithLabelValues(component, outcome).Inc()
}

// ObserveRequestDuration records how long a relayed request took.
func ObserveRequestDuration(component, model string, d time.Duration) {
	requestDuration.WithLabelValues(component, model).Observe(d.Seconds())
}

// RecordFragments adds n relayed stream fragments for model.
func RecordFragments(model string, n int) {
	if n > 0 {
		streamFragments.WithLabelValues(model).Add(float64(n))
	}
}

// RecordDroppedLine counts one malformed backend stream line.
func RecordDroppedLine() {
	streamDroppedLines.Inc()
}

// RecordModelTokens increments token counters for a model.
func RecordModelTokens(model, kind string, n int) {
	if n > 0 {
		modelTokens.WithLabelValues(kind, model).Add(float64(n))
	}
}

// TrackInFlight marks one request of component as in flight. The returned
// function must be called exactly once when the request ends.
func TrackInFlight(component string) func() {
	inFlight.Add(1)
	g := inFlightGauge.WithLabelValues(component)
	g.Inc()
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			inFlight.Add(-1)
			g.Dec()
		}
	}
}

// InFlight returns the number of requests currently waiting on the backend.
func InFlight() int64 {
	return inFlight.Load()
}
