package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"collabdir/internal/core"
)

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)

const metricsNamespace = "collabdir"

// PrometheusRecorder counts service operations and their latency.
type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the operation metrics with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Service operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Service operation latency, including table load and save",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
	}
	for _, c := range []prometheus.Collector{r.operations, r.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements core.MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}
