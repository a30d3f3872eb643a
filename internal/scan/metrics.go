package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	cycleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldscan_cycles_total",
			Help: "Total number of scan cycles by status",
		},
		[]string{"status"}, // status: blurry, scanning, detecting, locking, confirmed, error, discarded
	)

	sharpnessScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldscan_frame_sharpness",
			Help:    "Laplacian variance of scanned frames",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2500, 5000},
		},
	)

	confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldscan_confirmations_total",
			Help: "Total number of confirmed fields",
		},
		[]string{"field"},
	)

	// Scheduler metrics
	deferredCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldscan_deferred_cycles_total",
			Help: "Cycles deferred because another cycle was in flight",
		},
	)

	captureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldscan_capture_failures_total",
			Help: "Total number of failed frame captures",
		},
		[]string{"source"},
	)

	runnerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldscan_runner_active",
			Help: "Number of scan loops currently scheduling cycles",
		},
	)
)
