// Package metrics exposes Prometheus instrumentation and a health endpoint
// for the backtest service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for backtest runs. It satisfies
// engine.Recorder.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec   // labels: strategy, outcome
	RunDuration   *prometheus.HistogramVec // labels: strategy
	BarsProcessed prometheus.Counter
	InFlight      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with a fresh
// registry, so several instances can coexist in tests.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantdesk_backtest_runs_total",
			Help: "Backtest runs by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantdesk_backtest_duration_seconds",
			Help:    "Wall time of a backtest run including the price fetch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"strategy"}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quantdesk_bars_processed_total",
			Help: "Price bars fed through strategies",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quantdesk_backtests_in_flight",
			Help: "Backtest requests currently being served",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.BarsProcessed,
		m.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRun records one finished backtest.
func (m *Metrics) ObserveRun(strategyName, outcome string, bars int, elapsed time.Duration) {
	if strategyName == "" {
		strategyName = "unknown"
	}
	m.RunsTotal.WithLabelValues(strategyName, outcome).Inc()
	m.RunDuration.WithLabelValues(strategyName).Observe(elapsed.Seconds())
	if bars > 0 {
		m.BarsProcessed.Add(float64(bars))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
