package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cantor_recommendations_total",
			Help: "Recommendations produced, by outcome (complete or degraded)",
		},
		[]string{"outcome"},
	)

	FallbackFills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cantor_fallback_fills_total",
			Help: "Mass parts filled from the catalog fallback instead of a rule",
		},
		[]string{"mass_part"},
	)

	SeasonLookupMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cantor_season_lookup_misses_total",
			Help: "Recommendations whose season code was unknown to the catalog",
		},
	)

	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cantor_snapshot_duration_seconds",
			Help:    "Time spent loading rules and fallback songs for one recommendation",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordRecommendation counts one recommendation.
func RecordRecommendation(degraded bool) {
	outcome := "complete"
	if degraded {
		outcome = "degraded"
	}
	RecommendationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSnapshot records the duration since start.
func ObserveSnapshot(start time.Time) {
	SnapshotDuration.Observe(time.Since(start).Seconds())
}
