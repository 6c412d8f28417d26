package metrics

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/liamcoop/fraudrules/internal/logger"
	"github.com/liamcoop/fraudrules/rules"
)

const namespace = "fraudrules"

// Metrics holds all Prometheus metrics for the rule store and its API.
// It implements rules.StoreMetrics and rules.OperationMetrics.
type Metrics struct {
	StoreLoads       *prometheus.CounterVec
	StoreSaves       *prometheus.CounterVec
	StoreReseeds     *prometheus.CounterVec
	Operations       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	RateLimitedTotal prometheus.Counter
}

var (
	_ rules.StoreMetrics     = (*Metrics)(nil)
	_ rules.OperationMetrics = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		StoreLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "loads_total",
			Help:      "Total number of rule collection loads by source.",
		}, []string{"source"}), // source: cache, medium, seed
		StoreSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "saves_total",
			Help:      "Total number of rule collection saves by outcome.",
		}, []string{"outcome"}),
		StoreReseeds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "reseeds_total",
			Help:      "Total number of times the store was reseeded, by reason.",
		}, []string{"reason"}), // reason: empty, corrupt
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "operations_total",
			Help:      "Total number of repository operations by name and outcome.",
		}, []string{"operation", "outcome"}), // outcome: ok, not_found, error
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		}),
	}

	logCounter(factory, "errors_total", "Errors logged or counted, before sampling.", &logger.TotalErrors)
	logCounter(factory, "warnings_total", "Warnings logged or counted, before sampling.", &logger.TotalWarnings)
	logCounter(factory, "http_5xx_total", "HTTP 5xx responses.", &logger.Total5xxErrors)
	logCounter(factory, "http_4xx_total", "HTTP 4xx responses.", &logger.Total4xxErrors)
	logCounter(factory, "slow_requests_total", "Requests slower than the slow threshold.", &logger.SlowRequests)

	return m
}

func logCounter(factory promauto.Factory, name, help string, v *atomic.Int64) {
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "log",
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Load()) })
}

// LoadServed implements rules.StoreMetrics
func (m *Metrics) LoadServed(source string) {
	m.StoreLoads.WithLabelValues(source).Inc()
}

// Saved implements rules.StoreMetrics
func (m *Metrics) Saved(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.StoreSaves.WithLabelValues(outcome).Inc()
}

// Reseeded implements rules.StoreMetrics
func (m *Metrics) Reseeded(reason string) {
	m.StoreReseeds.WithLabelValues(reason).Inc()
}

// Observe implements rules.OperationMetrics
func (m *Metrics) Observe(operation string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case rules.IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP records one finished request
func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
