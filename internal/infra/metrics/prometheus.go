package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_keyframe_jobs_processed_total",
		Help: "Total number of keyframe jobs processed, by outcome",
	}, []string{"outcome"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiapx_keyframe_job_duration_seconds",
		Help:    "Duration of keyframe pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	FramesEvaluatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_keyframe_frames_evaluated_total",
		Help: "Total number of frames scored across all scans",
	})

	SelectedFrameIndex = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fiapx_keyframe_selected_frame_index",
		Help:    "Zero-based index of the frame chosen as keyframe",
		Buckets: []float64{0, 1, 5, 10, 30, 60, 120, 300, 900},
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiapx_keyframe_active_workers",
		Help: "Number of keyframe jobs currently running",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_keyframe_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
