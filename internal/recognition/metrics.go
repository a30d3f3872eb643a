package recognition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ocrDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "fieldscan_ocr_pass_duration_seconds",
		Help:    "Duration of OCR passes",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"pass"},
)
