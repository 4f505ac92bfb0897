package tagger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK       = "ok"
	outcomeFallback = "fallback"
	outcomeError    = "error"
)

type metrics struct {
	predictions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tagger",
			Name:      "predictions_total",
			Help:      "Tag predictions by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tagger",
			Name:      "prediction_duration_seconds",
			Help:      "Time spent predicting tags for one image.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"strategy"}),
	}

	if reg != nil {
		m.predictions = register(reg, m.predictions)
		m.latency = register(reg, m.latency)
	}
	return m
}

// register returns the already registered collector when one with the same
// description exists, so several taggers can share a registry
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(id StrategyID, outcome string, elapsed time.Duration) {
	m.predictions.WithLabelValues(id.String(), outcome).Inc()
	m.latency.WithLabelValues(id.String()).Observe(elapsed.Seconds())
}
