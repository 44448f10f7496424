// Package metrics exposes pipeline counters to Prometheus. Collectors live
// in their own registry so tests and multiple daemons in one process do not
// collide on the default one.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/promptseal/internal/submission"
)

const namespace = "promptseal"

type Metrics struct {
	registry *prometheus.Registry

	stepCounter     *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	submitCounter   *prometheus.CounterVec
	blobCounter     *prometheus.CounterVec
	blobBytes       *prometheus.CounterVec
	blobDuration    *prometheus.HistogramVec
	skippedCounter  *prometheus.CounterVec
	shareCounter    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "steps_total",
			Help:      "Submission steps left, labeled by step and outcome.",
		}, []string{"step", "outcome"}),

		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "step_duration_seconds",
			Help:      "Time spent in each submission step.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step"}),

		submitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "finished_total",
			Help:      "Finished submissions, labeled by terminal state.",
		}, []string{"state"}),

		blobCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blobstore",
			Name:      "operations_total",
			Help:      "Blob store calls, labeled by operation and outcome.",
		}, []string{"op", "outcome"}),

		blobBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blobstore",
			Name:      "bytes_total",
			Help:      "Bytes moved by successful blob store calls.",
		}, []string{"op"}),

		blobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "blobstore",
			Name:      "duration_seconds",
			Help:      "Latency of blob store calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		skippedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "skipped_total",
			Help:      "Listing entries dropped while reading the marketplace, labeled by reason.",
		}, []string{"reason"}),

		shareCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keyserver",
			Name:      "shares_total",
			Help:      "Key share requests, labeled by outcome.",
		}, []string{"outcome"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway RPC latency, labeled by method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}

	m.registry.MustRegister(
		m.stepCounter,
		m.stepDuration,
		m.submitCounter,
		m.blobCounter,
		m.blobBytes,
		m.blobDuration,
		m.skippedCounter,
		m.shareCounter,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Transition implements submission.Tracker.
func (m *Metrics) Transition(ctx context.Context, ev submission.Event) error {
	if ev.From != "" && ev.From != submission.StateIdle {
		step := string(ev.From)
		m.stepCounter.WithLabelValues(step, outcome(ev.Err)).Inc()
		m.stepDuration.WithLabelValues(step).Observe(ev.Elapsed.Seconds())
	}
	if ev.To == submission.StateDone || ev.To == submission.StateFailed {
		m.submitCounter.WithLabelValues(string(ev.To)).Inc()
	}
	return nil
}

// ObserveBlob implements blobstore.Observer.
func (m *Metrics) ObserveBlob(op string, size int, err error, elapsed time.Duration) {
	m.blobCounter.WithLabelValues(op, outcome(err)).Inc()
	m.blobDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err == nil {
		m.blobBytes.WithLabelValues(op).Add(float64(size))
	}
}

// ObserveSkip implements listing.SkipObserver.
func (m *Metrics) ObserveSkip(reason string) {
	m.skippedCounter.WithLabelValues(reason).Inc()
}

// ObserveShare counts one key server share request.
func (m *Metrics) ObserveShare(err error) {
	m.shareCounter.WithLabelValues(outcome(err)).Inc()
}

// ObserveRequest records one gateway call.
func (m *Metrics) ObserveRequest(method, code string, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(method, code).Observe(elapsed.Seconds())
}
