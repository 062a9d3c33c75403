package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
)

// Metrics holds the dispatcher's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	enqueuedTotal *prometheus.CounterVec
	claims        *prometheus.CounterVec
	claimLatency  *prometheus.HistogramVec
	settledTotal  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg; nil leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		enqueuedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "enqueued_total",
			Help:      "Work items enqueued.",
		}, []string{"queue"}),
		claims: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "claims_total",
			Help:      "ClaimNext calls by result (claimed, empty, error).",
		}, []string{"queue", "result"}),
		claimLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "claim_duration_seconds",
			Help:      "Duration of ClaimNext.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"queue"}),
		settledTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "settled_total",
			Help:      "Work items completed, failed or requeued.",
		}, []string{"queue", "status"}),
	}
}

func (m *Metrics) enqueued(queue string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(queue).Inc()
}

func (m *Metrics) claimed(queue, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(queue, result).Inc()
	m.claimLatency.WithLabelValues(queue).Observe(d.Seconds())
}

func (m *Metrics) settled(queue string, status model.WorkStatus) {
	if m == nil {
		return
	}
	m.settledTotal.WithLabelValues(queue, string(status)).Inc()
}
