package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "desai"

// Metrics are the run counters exported to Prometheus.
type Metrics struct {
	Rounds          prometheus.Counter
	Tasks           *prometheus.CounterVec
	RowsAccepted    prometheus.Counter
	RowsDuplicate   prometheus.Counter
	StoreSize       prometheus.Gauge
	FilterFallbacks prometheus.Counter
	ParseFallbacks  prometheus.Counter
	Reviews         *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rounds_total",
			Help:      "Completed search rounds.",
		}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "search_tasks_total",
			Help:      "Executed search tasks by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		RowsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_accepted_total",
			Help:      "Rows accepted into the dedupe store.",
		}),
		RowsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_duplicate_total",
			Help:      "Rows rejected as duplicates.",
		}),
		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "store_rows",
			Help:      "Unique rows currently held.",
		}),
		FilterFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "filter_fallbacks_total",
			Help:      "Filter passes that kept every candidate.",
		}),
		ParseFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "generation_parse_fallbacks_total",
			Help:      "Generation batches recovered by line splitting.",
		}),
		Reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reviews_total",
			Help:      "Plan reviews by decision.",
		}, []string{"decision"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Rounds, m.Tasks, m.RowsAccepted, m.RowsDuplicate,
			m.StoreSize, m.FilterFallbacks, m.ParseFallbacks, m.Reviews,
		)
	}
	return m
}

func taskOutcomeLabel(failed bool, accepted int) string {
	switch {
	case failed:
		return "failed"
	case accepted == 0:
		return "empty"
	default:
		return "ok"
	}
}
