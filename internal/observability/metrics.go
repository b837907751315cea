package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TracesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackseg_traces_processed_total",
		Help: "Total traces segmented",
	})
	InvalidTraces = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackseg_invalid_traces_total",
		Help: "Traces rejected before segmentation",
	})
	SegmentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackseg_segments_emitted_total",
		Help: "Segments kept after the distance floor",
	})
	DuplicatePointsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackseg_duplicate_points_removed_total",
		Help: "Successive duplicate points dropped before segmentation",
	})
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackseg_cache_lookups_total",
		Help: "Segmentation cache lookups by result",
	}, []string{"result"})
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackseg_cache_evictions_total",
		Help: "Stale cache entries removed by the janitor",
	})
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trackseg_cache_entries",
		Help: "Segmentation cache entries by freshness, as of the last janitor sweep",
	}, []string{"state"})
	SegmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trackseg_segmentation_latency_seconds",
		Help:    "Time to segment one trace",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveSegmentLatency(start time.Time) {
	SegmentLatency.Observe(time.Since(start).Seconds())
}
