package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the pipeline.
type Metrics struct {
	AnalyzeTotal      prometheus.Counter
	CacheHits         prometheus.Counter
	Timeouts          prometheus.Counter
	NoData            prometheus.Counter
	PersistErrors     prometheus.Counter
	AuditErrors       prometheus.Counter
	CorrelationRuns   prometheus.Counter
	CorrelationErrors prometheus.Counter
	CascadePredicted  prometheus.Counter

	AnomaliesByType *prometheus.CounterVec
	AnalyzeDuration prometheus.Histogram
}

// New creates and registers all metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry so
// repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AnalyzeTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_analyze_total",
			Help: "Total number of Analyze calls received",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_cache_hits",
			Help: "Number of Analyze calls served from the result cache",
		}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_timeouts",
			Help: "Number of Analyze calls abandoned at the calculation deadline",
		}),
		NoData: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_no_data",
			Help: "Number of Analyze calls with no model responses available",
		}),
		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_persist_errors",
			Help: "Number of failed analysis persistence transactions",
		}),
		AuditErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_audit_errors",
			Help: "Number of swallowed audit write failures",
		}),
		CorrelationRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_correlation_runs",
			Help: "Number of background correlation tasks dispatched",
		}),
		CorrelationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_correlation_errors",
			Help: "Number of background correlation tasks that failed",
		}),
		CascadePredicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "quantum_cascade_predictions",
			Help: "Number of cascade predictions produced",
		}),
		AnomaliesByType: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantum_anomalies_by_type",
				Help: "Number of anomalies detected per type",
			},
			[]string{"type"},
		),
		AnalyzeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quantum_analyze_duration_seconds",
			Help:    "End-to-end Analyze latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}),
	}
}
