// Package metrics exposes pool, provider and search session counters in the
// Prometheus exposition format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deepagg/internal/domain"
)

const namespace = "deepagg"

type Metrics struct {
	registry *prometheus.Registry

	poolSize        *prometheus.GaugeVec
	poolTopScore    prometheus.Gauge
	poolRefreshTook prometheus.Histogram
	poolRefreshes   prometheus.Counter

	providerFetches *prometheus.CounterVec
	providerTook    *prometheus.HistogramVec

	sourceResults *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	sessionTook   prometheus.Histogram
}

// New builds a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "proxies",
			Help:      "Number of proxies per pool stage.",
		}, []string{"stage"}),
		poolTopScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "top_score",
			Help:      "Score of the best ranked proxy.",
		}),
		poolRefreshTook: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a check and rank cycle.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		poolRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "refreshes_total",
			Help:      "Completed pool refreshes.",
		}),
		providerFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "attempts_total",
			Help:      "Provider fetch attempts by outcome.",
		}, []string{"provider", "outcome"}),
		providerTook: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "attempt_duration_seconds",
			Help:      "Provider fetch attempt duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		sourceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "source_results_total",
			Help:      "Per-source fetch and parse outcomes.",
		}, []string{"source", "outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "sessions_total",
			Help:      "Search sessions by terminal event.",
		}, []string{"terminal"}),
		sessionTook: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "session_duration_seconds",
			Help:      "Search session duration.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20},
		}),
	}

	m.registry.MustRegister(
		m.poolSize,
		m.poolTopScore,
		m.poolRefreshTook,
		m.poolRefreshes,
		m.providerFetches,
		m.providerTook,
		m.sourceResults,
		m.sessions,
		m.sessionTook,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePool(state *domain.ProxyPoolState, took time.Duration) {
	if m == nil || state == nil {
		return
	}
	m.poolSize.WithLabelValues("raw").Set(float64(len(state.Raw)))
	m.poolSize.WithLabelValues("tested").Set(float64(len(state.Tested)))
	m.poolSize.WithLabelValues("best").Set(float64(len(state.Best)))
	if len(state.Best) > 0 {
		m.poolTopScore.Set(float64(state.Best[0].Score))
	} else {
		m.poolTopScore.Set(0)
	}
	m.poolRefreshTook.Observe(took.Seconds())
	m.poolRefreshes.Inc()
}

func (m *Metrics) ObserveProvider(provider string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	m.providerFetches.WithLabelValues(provider, outcome(ok)).Inc()
	m.providerTook.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) ObserveSource(source string, ok bool) {
	if m == nil {
		return
	}
	m.sourceResults.WithLabelValues(source, outcome(ok)).Inc()
}

func (m *Metrics) ObserveSession(terminal domain.EventType, took time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(terminal)).Inc()
	m.sessionTook.Observe(took.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
