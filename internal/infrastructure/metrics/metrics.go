// Package metrics exposes Prometheus collectors for the HTTP surface,
// auto-verification, the XP ledger, the event bus and background jobs.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learnfi_hub"

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	verdicts            *prometheus.CounterVec
	autoVerifyFailures  *prometheus.CounterVec
	xpAwarded           *prometheus.CounterVec
	ledgerEntries       *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec

	eventsHandled   *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	leaderboardHits *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),

		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "verdicts_total",
			Help:      "Auto-verification verdicts by task type and outcome.",
		}, []string{"task_type", "outcome"}),
		autoVerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "transaction_failures_total",
			Help:      "Auto-verification transactions that failed and left the submission pending.",
		}, []string{"task_type"}),

		xpAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "xp_awarded_total",
			Help:      "XP credited, by source type. Deductions are not subtracted.",
		}, []string{"source_type"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Ledger entries appended, by source type and direction.",
		}, []string{"source_type", "direction"}),
		invariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invariant_violations_total",
			Help:      "Users whose cached XP total disagreed with the ledger.",
		}, []string{"detector"}),

		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Event handler executions.",
		}, []string{"event_type", "success"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Duration of event handler executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"event_type"}),

		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Background job runs.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of background job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"job"}),

		leaderboardHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "cache_updates_total",
			Help:      "Leaderboard cache updates on XP awards, by whether the cache was warm.",
		}, []string{"warm"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.verdicts,
		m.autoVerifyFailures,
		m.xpAwarded,
		m.ledgerEntries,
		m.invariantViolations,
		m.eventsHandled,
		m.eventDuration,
		m.jobRuns,
		m.jobDuration,
		m.leaderboardHits,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// ObserveVerdict counts an auto-verification verdict.
func (m *Metrics) ObserveVerdict(taskType, outcome string) {
	m.verdicts.WithLabelValues(taskType, outcome).Inc()
}

// ObserveAutoVerifyFailure counts a failed auto-verification transaction.
func (m *Metrics) ObserveAutoVerifyFailure(taskType string) {
	m.autoVerifyFailures.WithLabelValues(taskType).Inc()
}

// RecordLedgerEntry counts a committed ledger entry.
func (m *Metrics) RecordLedgerEntry(sourceType string, amount int) {
	direction := "credit"
	if amount < 0 {
		direction = "debit"
	} else {
		m.xpAwarded.WithLabelValues(sourceType).Add(float64(amount))
	}
	m.ledgerEntries.WithLabelValues(sourceType, direction).Inc()
}

// RecordInvariantViolation counts a detected balance mismatch.
func (m *Metrics) RecordInvariantViolation(detector string) {
	if detector == "" {
		detector = "unknown"
	}
	m.invariantViolations.WithLabelValues(detector).Inc()
}

// RecordLeaderboardUpdate counts a leaderboard cache update.
func (m *Metrics) RecordLeaderboardUpdate(warm bool) {
	m.leaderboardHits.WithLabelValues(strconv.FormatBool(warm)).Inc()
}

// ObserveEventHandled records an event handler execution.
func (m *Metrics) ObserveEventHandled(eventType string, duration time.Duration, success bool) {
	m.eventsHandled.WithLabelValues(eventType, strconv.FormatBool(success)).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordJobRun records a background job run.
func (m *Metrics) RecordJobRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// CanonicalPath replaces id segments so that label cardinality stays bounded.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
