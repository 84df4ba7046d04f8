package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Evaluation outcomes used as the "status" label.
const (
	StatusTriggered    = "triggered"
	StatusNotTriggered = "not_triggered"
	StatusFailed       = "failed"
)

// EvaluatorMetrics holds all Prometheus metrics for the evaluator service.
type EvaluatorMetrics struct {
	EvaluationsTotal     *prometheus.CounterVec
	SuppressedTotal      prometheus.Counter
	BackendQueryDuration *prometheus.HistogramVec
	PublishFailuresTotal prometheus.Counter
	SpoolActive          prometheus.Gauge
}

// NewEvaluatorMetrics initializes the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewEvaluatorMetrics(reg prometheus.Registerer) *EvaluatorMetrics {
	factory := promauto.With(reg)
	return &EvaluatorMetrics{
		EvaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggregation_count",
			Subsystem: "evaluator",
			Name:      "evaluations_total",
			Help:      "Total number of condition evaluations by outcome.",
		}, []string{"condition_id", "status"}), // status: triggered, not_triggered, failed
		SuppressedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aggregation_count",
			Subsystem: "evaluator",
			Name:      "suppressed_total",
			Help:      "Total number of threshold-met evaluations suppressed by the grace period.",
		}),
		BackendQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aggregation_count",
			Subsystem: "backend",
			Name:      "query_duration_seconds",
			Help:      "Latency of search backend queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}), // query: search, terms
		PublishFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aggregation_count",
			Subsystem: "publisher",
			Name:      "failures_total",
			Help:      "Total number of triggered results that could not be published.",
		}),
		SpoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aggregation_count",
			Subsystem: "publisher",
			Name:      "spool_active_gauge",
			Help:      "Indicates if results are being spooled locally (1 for active, 0 for inactive).",
		}),
	}
}

// ObserveQuery records the latency of one backend query. Safe on a nil receiver.
func (m *EvaluatorMetrics) ObserveQuery(query string, started time.Time) {
	if m == nil {
		return
	}
	m.BackendQueryDuration.WithLabelValues(query).Observe(time.Since(started).Seconds())
}

// IncEvaluation counts one evaluation outcome. Safe on a nil receiver.
func (m *EvaluatorMetrics) IncEvaluation(conditionID, status string) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(conditionID, status).Inc()
}

// IncSuppressed counts one grace suppression. Safe on a nil receiver.
func (m *EvaluatorMetrics) IncSuppressed() {
	if m == nil {
		return
	}
	m.SuppressedTotal.Inc()
}
