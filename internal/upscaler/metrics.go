package upscaler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upscaled",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Engine cache hits",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upscaled",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Engine cache misses (engine builds)",
	})

	cacheInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upscaled",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Full cache invalidations caused by a device change",
	})

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upscaled",
			Subsystem: "core",
			Name:      "inference_duration_seconds",
			Help:      "Duration of one tiled inference pass",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"model"},
	)

	tilesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaled",
			Subsystem: "core",
			Name:      "tiles_processed_total",
			Help:      "Tiles dispatched to the network",
		},
		[]string{"model"},
	)

	purgeRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upscaled",
		Subsystem: "core",
		Name:      "purge_runs_total",
		Help:      "Post-request purge passes (runs on success and failure)",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheInvalidations,
		inferenceDuration, tilesProcessed, purgeRuns)
}
