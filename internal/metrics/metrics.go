// Package metrics holds the Prometheus collectors exported by Harrier.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Metrics records scoring activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	runsTotal     *prometheus.CounterVec
	recordsScored prometheus.Counter
	claimsScored  prometheus.Counter
	flaggedClaims prometheus.Counter
	ruleTriggers  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry creates the collectors and registers them with registerer.
// gatherer backs Handler and may be nil when metrics are not served.
func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_runs_total",
			Help: "Scoring runs by outcome",
		}, []string{"outcome"}),
		recordsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harrier_records_scored_total",
			Help: "Policy records submitted for scoring",
		}),
		claimsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harrier_claims_scored_total",
			Help: "Claim records evaluated against the rule set",
		}),
		flaggedClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harrier_flagged_claims_total",
			Help: "Claim records with a positive risk score",
		}),
		ruleTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_rule_triggers_total",
			Help: "Rule triggers by rule id",
		}, []string{"rule"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_cache_lookups_total",
			Help: "Report cache lookups by result",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harrier_run_duration_seconds",
			Help:    "Time spent scoring a dataset",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harrier_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.runsTotal,
			m.recordsScored,
			m.claimsScored,
			m.flaggedClaims,
			m.ruleTriggers,
			m.cacheLookups,
			m.runDuration,
			m.httpRequests,
			m.httpDuration,
		)
	}

	return m
}

// Outcomes for ObserveRun.
const (
	OutcomeScored = "scored"
	OutcomeCached = "cached"
	OutcomeFailed = "failed"
)

// ObserveRun records a finished run. res is nil for cached and failed runs.
func (m *Metrics) ObserveRun(outcome string, records int, res *domain.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.recordsScored.Add(float64(records))
	if res == nil {
		return
	}
	m.runDuration.Observe(elapsed.Seconds())
	m.claimsScored.Add(float64(res.ClaimCount))
	m.flaggedClaims.Add(float64(len(res.Flagged)))
	for _, c := range res.RuleCounts {
		m.ruleTriggers.WithLabelValues(string(c.Rule)).Add(float64(c.Count))
	}
}

// CacheLookup records a report cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
