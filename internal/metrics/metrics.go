// Package metrics exposes Prometheus instrumentation for tracking, attribution and payouts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reflink"

// Outcome labels.
const (
	ResultOK    = "ok"
	ResultError = "error"

	CacheHit  = "hit"
	CacheMiss = "miss"

	CounterLink      = "link"
	CounterAffiliate = "affiliate"

	AttemptSuccess = "success"
	AttemptFailure = "failure"
	AttemptSkipped = "skipped"
)

// Metrics holds every collector. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry prometheus.Gatherer

	redirects      *prometheus.CounterVec
	clicksRecorded *prometheus.CounterVec
	clickCounters  *prometheus.CounterVec
	linkCache      *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	payoutAttempts *prometheus.CounterVec
	payoutOutcomes *prometheus.CounterVec
	methodDuration *prometheus.HistogramVec
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	circuitOpen    *prometheus.GaugeVec
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "redirects_total",
			Help: "Short link redirects by result.",
		}, []string{"result"}),
		clicksRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "clicks_recorded_total",
			Help: "Background click recordings by result.",
		}, []string{"result"}),
		clickCounters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "click_counter_failures_total",
			Help: "Click counter updates that failed after retries, by counter.",
		}, []string{"counter"}),
		linkCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_cache_lookups_total",
			Help: "Link resolve cache lookups by result.",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_webhooks_total",
			Help: "Order lifecycle webhooks by event and outcome.",
		}, []string{"event", "outcome"}),
		payoutAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payout_method_attempts_total",
			Help: "Payout method calls by method and outcome.",
		}, []string{"method", "outcome"}),
		payoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payouts_total",
			Help: "Finished payout attempts by resulting status.",
		}, []string{"status"}),
		methodDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "payout_method_duration_seconds",
			Help:    "Latency of payout method calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_job_runs_total",
			Help: "Scheduler job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "scheduler_job_duration_seconds",
			Help:    "Scheduler job duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "payout_method_circuit_open",
			Help: "1 while a payout method circuit is open.",
		}, []string{"method"}),
	}
	reg.MustRegister(
		m.redirects, m.clicksRecorded, m.clickCounters, m.linkCache, m.webhooks, m.payoutAttempts,
		m.payoutOutcomes, m.methodDuration, m.jobRuns, m.jobDuration, m.circuitOpen,
	)
	return m
}

// NewDefault builds a registry with Go runtime and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Redirect(found bool) {
	if m == nil {
		return
	}
	if found {
		m.redirects.WithLabelValues("found").Inc()
		return
	}
	m.redirects.WithLabelValues("not_found").Inc()
}

func (m *Metrics) ClickRecorded(err error) {
	if m == nil {
		return
	}
	m.clicksRecorded.WithLabelValues(resultOf(err)).Inc()
}

func (m *Metrics) ClickCounterFailed(counter string) {
	if m == nil {
		return
	}
	m.clickCounters.WithLabelValues(counter).Inc()
}

func (m *Metrics) LinkCache(result string) {
	if m == nil {
		return
	}
	m.linkCache.WithLabelValues(result).Inc()
}

func (m *Metrics) Webhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) PayoutAttempt(method, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.payoutAttempts.WithLabelValues(method, outcome).Inc()
	if outcome != AttemptSkipped {
		m.methodDuration.WithLabelValues(method).Observe(took.Seconds())
	}
}

func (m *Metrics) PayoutOutcome(status string) {
	if m == nil {
		return
	}
	m.payoutOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) CircuitOpen(method string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.circuitOpen.WithLabelValues(method).Set(v)
}

func (m *Metrics) JobRun(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, resultOf(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
