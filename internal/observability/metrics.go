package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reservoirs"

// Metrics aggregates the engine's Prometheus collectors. All collectors are
// labeled by source so the per-adapter loops share one set.
type Metrics struct {
	FetchesTotal *prometheus.CounterVec
	RecordsTotal *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	CursorDate   *prometheus.GaugeVec
	RunActive    *prometheus.GaugeVec
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Parsed records by source and persistence result.",
		}, []string{"source", "result"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one acquisition run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"source"}),
		CursorDate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_date_seconds",
			Help:      "Resolved cursor position as a Unix timestamp.",
		}, []string{"source"}),
		RunActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "Whether a run is in progress for the source.",
		}, []string{"source"}),
	}
}

// NewMetricsForTesting returns collectors backed by a throwaway registry.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
