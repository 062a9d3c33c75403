package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the controller's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	lockWait  *prometheus.HistogramVec
	approved  prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg creates unregistered
// collectors, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "decisions_total",
			Help:      "Admission operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "admission",
			Name:      "operation_duration_seconds",
			Help:      "End-to-end duration of admission operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
		lockWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "admission",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the campaign row lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"mode"}),
		approved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "batch_approved_total",
			Help:      "Applications promoted by BatchApprove.",
		}),
	}
}

func (m *Metrics) observe(op string, outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(op, outcome.String()).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) observeLockWait(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) addApproved(n int) {
	if m == nil || n == 0 {
		return
	}
	m.approved.Add(float64(n))
}
