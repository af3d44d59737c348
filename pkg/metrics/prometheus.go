package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics and circuitbreaker.Observer
// using Prometheus.
type Recorder struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	coldLatency    *prometheus.HistogramVec
	warmLatency    *prometheus.HistogramVec
	upstream       *prometheus.HistogramVec
	upstreamErrors *prometheus.CounterVec
	pricesIngested *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec

	breakerState     *prometheus.GaugeVec
	breakerBlocked   *prometheus.CounterVec
	breakerFailed    *prometheus.CounterVec
	breakerSucceeded *prometheus.CounterVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg (tests pass a fresh registry).
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_forecast_cache_hits_total",
				Help: "Forecast requests served from cache",
			},
			[]string{"path"},
		),
		cacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_forecast_cache_misses_total",
				Help: "Forecast requests that missed the cache",
			},
			[]string{"path"},
		),
		coldLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goldcast_forecast_cold_seconds",
				Help:    "End-to-end latency of forecasts computed on a cache miss",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"path"},
		),
		warmLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goldcast_forecast_warm_seconds",
				Help:    "Latency of forecasts served from cache",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"path"},
		),
		upstream: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goldcast_upstream_duration_seconds",
				Help:    "Duration of calls to the forecasting service",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "result"},
		),
		upstreamErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_upstream_errors_total",
				Help: "Failed calls to the forecasting service",
			},
			[]string{"endpoint"},
		),
		pricesIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_prices_ingested_total",
				Help: "Price observations written by the ingestion consumer",
			},
			[]string{"asset"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "goldcast_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		breakerBlocked: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_circuit_breaker_blocked_total",
				Help: "Calls rejected without running because the breaker was open",
			},
			[]string{"service"},
		),
		breakerFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_circuit_breaker_failures_total",
				Help: "Calls that ran through the breaker and failed",
			},
			[]string{"service"},
		),
		breakerSucceeded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goldcast_circuit_breaker_successes_total",
				Help: "Calls that ran through the breaker and succeeded",
			},
			[]string{"service"},
		),
	}
}

func (r *Recorder) IncCacheHit(path string)  { r.cacheHits.WithLabelValues(path).Inc() }
func (r *Recorder) IncCacheMiss(path string) { r.cacheMisses.WithLabelValues(path).Inc() }

func (r *Recorder) ObserveColdLatency(path string, seconds float64) {
	r.coldLatency.WithLabelValues(path).Observe(seconds)
}

func (r *Recorder) ObserveWarmLatency(path string, seconds float64) {
	r.warmLatency.WithLabelValues(path).Observe(seconds)
}

// ObserveUpstream records one forecasting-service call.
func (r *Recorder) ObserveUpstream(endpoint string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		r.upstreamErrors.WithLabelValues(endpoint).Inc()
	}
	r.upstream.WithLabelValues(endpoint, result).Observe(seconds)
}

func (r *Recorder) RecordPricesIngested(asset string, n int) {
	r.pricesIngested.WithLabelValues(asset).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetBreakerState(service, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	r.breakerState.WithLabelValues(service).Set(v)
}

func (r *Recorder) IncBreakerBlocked(service string) {
	r.breakerBlocked.WithLabelValues(service).Inc()
}

func (r *Recorder) IncBreakerFailed(service string) {
	r.breakerFailed.WithLabelValues(service).Inc()
}

func (r *Recorder) IncBreakerSucceeded(service string) {
	r.breakerSucceeded.WithLabelValues(service).Inc()
}
