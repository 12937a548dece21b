package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(batchSubmissionsTotal, batchPollsTotal, batchItemsTotal) }

var (
	batchSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_submissions_total",
			Help: "Batch job submissions, labeled by result.",
		},
		[]string{"result"}, // 'submitted', 'failed'
	)

	batchPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_polls_total",
			Help: "Batch status polls, labeled by observed job state.",
		},
		[]string{"state"},
	)

	batchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_items_fetched_total",
			Help: "Batch output records processed, labeled by outcome.",
		},
		[]string{"outcome"}, // 'final_ready', 'error'
	)
)

func IncBatchSubmission(result string) {
	batchSubmissionsTotal.WithLabelValues(norm(result)).Inc()
}

func IncBatchPoll(state string) {
	batchPollsTotal.WithLabelValues(norm(state)).Inc()
}

func AddBatchItems(outcome string, n int) {
	batchItemsTotal.WithLabelValues(norm(outcome)).Add(float64(n))
}
