package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	JobsCreated       prometheus.Counter
	ExecutionsTotal   *prometheus.CounterVec
	RejectionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveSessions    prometheus.Gauge
}

// NewMetrics registers the server collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "codr_jobs_created_total",
			Help: "Jobs created over the HTTP API.",
		}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codr_executions_total",
			Help: "Executions by language and outcome.",
		}, []string{"language", "outcome"}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codr_rejections_total",
			Help: "Submissions refused before execution, by reason.",
		}, []string{"reason"}),
		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codr_execution_duration_seconds",
			Help:    "Wall-clock execution time by language.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		}, []string{"language"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codr_active_sessions",
			Help: "WebSocket sessions currently open.",
		}),
	}
}
