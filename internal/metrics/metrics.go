package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the OCR pipeline. Passing a
// Registerer keeps tests isolated from the default registry.
type Metrics struct {
	JobsTotal          *prometheus.CounterVec
	AttemptsTotal      prometheus.Counter
	QueueDepth         prometheus.Gauge
	JobDuration        prometheus.Histogram
	FieldsMergedTotal  prometheus.Counter
	FieldsFlaggedTotal prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fichas_ocr_jobs_total",
			Help: "OCR jobs by terminal outcome.",
		}, []string{"outcome"}),
		AttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fichas_ocr_attempts_total",
			Help: "Individual OCR recognition attempts, including retries.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fichas_ocr_queue_depth",
			Help: "Jobs waiting in the OCR queue.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fichas_ocr_job_duration_seconds",
			Help:    "Wall time from dequeue to terminal outcome.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		FieldsMergedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fichas_ocr_fields_merged_total",
			Help: "Recognized field values merged into fichas.",
		}),
		FieldsFlaggedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fichas_ocr_fields_flagged_total",
			Help: "Recognized field values flagged for manual review.",
		}),
	}
}
