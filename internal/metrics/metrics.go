package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated registry served on /metrics.
	Registry = prometheus.NewRegistry()

	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "telemetry_events_received_total", Help: "Events accepted at the ingestion boundary."},
		[]string{"source"},
	)
	EventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "telemetry_events_rejected_total", Help: "Events rejected by validation."},
		[]string{"source"},
	)
	EventsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "telemetry_events_persisted_total", Help: "Events committed to the primary store."},
	)
	// EventsDropped counts events lost after the retry budget was exhausted.
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "telemetry_events_dropped_total", Help: "Events dropped after all flush attempts failed."},
	)
	Flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "telemetry_flushes_total", Help: "Buffer flushes by trigger and outcome."},
		[]string{"trigger", "outcome"},
	)
	FlushRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "telemetry_flush_retries_total", Help: "Failed flush attempts that were retried."},
	)
	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "telemetry_flush_batch_size", Help: "Events per flushed batch.", Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000}},
	)
	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "telemetry_flush_duration_seconds", Help: "Time to write a batch, retries included.", Buckets: prometheus.DefBuckets},
	)
	MirrorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "telemetry_mirror_failures_total", Help: "Batches a mirror failed to accept."},
		[]string{"mirror"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)
)

var regOnce sync.Once

// RegisterDefault registers every collector on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			EventsReceived,
			EventsRejected,
			EventsPersisted,
			EventsDropped,
			Flushes,
			FlushRetries,
			BatchSize,
			FlushDuration,
			MirrorFailures,
			HTTPRequests,
			HTTPDuration,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
