package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediadescriber_files_total",
		Help: "Files accounted for in batch runs, by kind and status",
	}, []string{"kind", "status"})

	FileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediadescriber_file_duration_seconds",
		Help:    "Wall-clock time spent on one file",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"kind"})

	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediadescriber_frames_total",
		Help: "Video frames analyzed, by outcome",
	}, []string{"outcome"})

	InferenceCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediadescriber_inference_calls_total",
		Help: "Calls to vision, transcription and embedding services, by outcome",
	}, []string{"service", "outcome"})

	ActiveFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediadescriber_active_files",
		Help: "Files currently being processed",
	})
)

// Outcome returns the outcome label for err.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
