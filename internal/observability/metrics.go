// Package observability provides Prometheus metrics for the job pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "video_transcriber"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	JobsSubmitted       prometheus.Counter
	JobsCompleted       prometheus.Counter
	JobsFailed          prometheus.Counter
	JobsResumed         prometheus.Counter
	ActiveJobs          prometheus.Gauge
	SegmentsTranscribed prometheus.Counter
	CheckpointCacheHits prometheus.Counter
	SegmentDuration     prometheus.Histogram
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted for processing",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs that reached complete",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of pipeline runs that ended failed",
		}),
		JobsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_resumed_total",
			Help:      "Total number of accepted resume requests",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of pipeline runs currently in flight",
		}),
		SegmentsTranscribed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_transcribed_total",
			Help:      "Total number of audio segments transcribed and checkpointed",
		}),
		CheckpointCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_cache_hits_total",
			Help:      "Total number of runs that reused a completed checkpoint without invoking the transcriber",
		}),
		SegmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_duration_seconds",
			Help:      "Wall-clock time spent transcribing one segment",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	reg.MustRegister(
		m.JobsSubmitted,
		m.JobsCompleted,
		m.JobsFailed,
		m.JobsResumed,
		m.ActiveJobs,
		m.SegmentsTranscribed,
		m.CheckpointCacheHits,
		m.SegmentDuration,
	)
	return m
}
