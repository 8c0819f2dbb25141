package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the scan pipeline. A nil
// *Registry is valid and records nothing, so pure-unit tests can pass nil.
type Registry struct {
	registry *prometheus.Registry

	ScansTotal   *prometheus.CounterVec
	ScanDuration prometheus.Histogram
	StageAssets  *prometheus.GaugeVec
	StageDrops   *prometheus.CounterVec

	FetchRequests *prometheus.CounterVec
	FetchRetries  *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	EventsTotal *prometheus.CounterVec
}

// NewRegistry creates and registers all pipeline metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendspotter_scans_total",
				Help: "Total number of scan runs by outcome",
			},
			[]string{"outcome"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trendspotter_scan_duration_seconds",
				Help:    "Wall-clock duration of a full scan run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		StageAssets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trendspotter_stage_survivors",
				Help: "Assets surviving each pipeline stage on the last run",
			},
			[]string{"stage"},
		),
		StageDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendspotter_stage_drops_total",
				Help: "Assets dropped per stage and reason",
			},
			[]string{"stage", "reason"},
		),
		FetchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendspotter_fetch_requests_total",
				Help: "Outbound requests per service and result",
			},
			[]string{"service", "result"},
		),
		FetchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendspotter_fetch_retries_total",
				Help: "Retry attempts per service",
			},
			[]string{"service"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trendspotter_breaker_state",
				Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trendspotter_history_cache_hits_total",
				Help: "History cache hits",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trendspotter_history_cache_misses_total",
				Help: "History cache misses",
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendspotter_qualifier_events_total",
				Help: "Entered/exited events emitted",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		r.ScansTotal, r.ScanDuration, r.StageAssets, r.StageDrops,
		r.FetchRequests, r.FetchRetries, r.BreakerState,
		r.CacheHits, r.CacheMisses, r.EventsTotal,
	)
	return r
}

// Handler exposes the registry for the read-only HTTP surface.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Helpers below are nil-safe so components can be built without metrics.

func (r *Registry) RecordFetch(service, result string) {
	if r == nil {
		return
	}
	r.FetchRequests.WithLabelValues(service, result).Inc()
}

func (r *Registry) RecordRetry(service string) {
	if r == nil {
		return
	}
	r.FetchRetries.WithLabelValues(service).Inc()
}

func (r *Registry) SetBreakerState(service string, state float64) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(service).Set(state)
}

func (r *Registry) RecordCache(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.CacheHits.Inc()
	} else {
		r.CacheMisses.Inc()
	}
}

func (r *Registry) RecordStage(stage string, survivors int) {
	if r == nil {
		return
	}
	r.StageAssets.WithLabelValues(stage).Set(float64(survivors))
}

func (r *Registry) RecordDrop(stage, reason string) {
	if r == nil {
		return
	}
	r.StageDrops.WithLabelValues(stage, reason).Inc()
}

func (r *Registry) RecordEvent(kind string) {
	if r == nil {
		return
	}
	r.EventsTotal.WithLabelValues(kind).Inc()
}
