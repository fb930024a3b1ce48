// Package metrics holds the pipeline's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "demprep_stage_duration_seconds",
		Help:    "Wall time of each pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"stage"})
	StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demprep_stage_failures_total",
		Help: "Pipeline stages that returned an error",
	}, []string{"stage"})
	TilesScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demprep_tiles_scanned_total",
		Help: "Archive entries considered by the tile ingestor",
	})
	TilesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demprep_tiles_ingested_total",
		Help: "Tiles overlapping the AOI that were decoded",
	})
	SatelliteAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "demprep_satellite_attempts_total",
		Help: "Satellite provider requests by outcome",
	}, []string{"outcome"})
	SatelliteCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demprep_satellite_cache_hits_total",
		Help: "Satellite responses served from the cache",
	})
	OutputPixels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "demprep_reference_grid_pixels",
		Help: "Pixel count of the last reference grid",
	})
)

var collectors = []prometheus.Collector{
	StageDuration, StageFailures, TilesScanned, TilesIngested,
	SatelliteAttempts, SatelliteCacheHits, OutputPixels,
}

func init() {
	for _, c := range collectors {
		prometheus.MustRegister(c)
	}
}

// Handler exposes the registered metrics.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveStage records the duration of a stage started at start, and counts
// it as failed when err is set.
func ObserveStage(stage string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// Push sends the pipeline collectors to a Pushgateway under job.
func Push(url, job string) error {
	p := push.New(url, job)
	for _, c := range collectors {
		p = p.Collector(c)
	}
	return p.Push()
}
