package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		generateCallsTotal,
		generateLatencyMs,
		seedRejectionsTotal,
		previewItemsTotal,
	)
}

var (
	generateCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_generate_calls_total",
			Help: "Synchronous generate calls per model and outcome.",
		},
		[]string{"model", "outcome"}, // ok | transport | no_image | refused | not_configured
	)

	generateLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_generate_latency_ms",
			Help:    "Generate call latency distribution in milliseconds.",
			Buckets: []float64{500, 1000, 2500, 5000, 10000, 20000, 40000, 80000},
		},
		[]string{"model", "success"},
	)

	seedRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_seed_rejections_total",
			Help: "Requests retried without a seed after the service rejected it.",
		},
		[]string{"model"},
	)

	previewItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_items_total",
			Help: "Preview fan-out items by final status.",
		},
		[]string{"status"},
	)
)

func ObserveGenerate(model, outcome string, latency time.Duration) {
	generateCallsTotal.WithLabelValues(norm(model), norm(outcome)).Inc()
	generateLatencyMs.WithLabelValues(norm(model), strconv.FormatBool(outcome == "ok")).
		Observe(float64(latency / time.Millisecond))
}

func IncSeedRejection(model string) {
	seedRejectionsTotal.WithLabelValues(norm(model)).Inc()
}

func IncPreviewItem(status string) {
	previewItemsTotal.WithLabelValues(norm(status)).Inc()
}
