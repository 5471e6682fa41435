package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "afm"

// Sync outcomes.
const (
	SyncApplied  = "applied"
	SyncRejected = "rejected"
	SyncFailed   = "failed"
)

// CartMetrics tracks server cart mutations and client sync health.
type CartMetrics struct {
	mutations  *prometheus.CounterVec
	sync       *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// NewCartMetrics registers cart metrics on reg. A nil registerer yields a no-op value.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_mutations_total",
		Help:      "Server cart line mutations by operation and result.",
	}, []string{"operation", "result"})
	sync := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_sync_attempts_total",
		Help:      "Client sync attempts by outcome.",
	}, []string{"outcome"})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cart_sync_queue_depth",
		Help:      "Pending cart mutations waiting for the server.",
	})
	reg.MustRegister(mutations, sync, depth)
	return &CartMetrics{mutations: mutations, sync: sync, queueDepth: depth}
}

// ObserveMutation counts a server-side line mutation.
func (c *CartMetrics) ObserveMutation(operation string, err error) {
	if c == nil || c.mutations == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.mutations.WithLabelValues(normalizeLabel(operation), result).Inc()
}

// ObserveSync counts a sync attempt outcome.
func (c *CartMetrics) ObserveSync(outcome string) {
	if c == nil || c.sync == nil {
		return
	}
	c.sync.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetQueueDepth reports the pending mutation count.
func (c *CartMetrics) SetQueueDepth(n int) {
	if c == nil || c.queueDepth == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
