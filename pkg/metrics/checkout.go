package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics tracks checkout attempts and their classified outcomes.
type CheckoutMetrics struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewCheckoutMetrics registers checkout metrics on reg.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_outcomes_total",
		Help:      "Checkout attempts by stage and outcome.",
	}, []string{"stage", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_stage_duration_seconds",
		Help:      "Checkout stage latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
	reg.MustRegister(outcomes, latency)
	return &CheckoutMetrics{outcomes: outcomes, latency: latency}
}

// Observe records a stage outcome and its duration.
func (c *CheckoutMetrics) Observe(stage, outcome string, took time.Duration) {
	if c == nil || c.outcomes == nil {
		return
	}
	c.outcomes.WithLabelValues(normalizeLabel(stage), normalizeLabel(outcome)).Inc()
	c.latency.WithLabelValues(normalizeLabel(stage)).Observe(took.Seconds())
}
