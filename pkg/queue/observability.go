package queue

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_queue_enqueue_total",
			Help: "Total number of invocations appended to queues",
		},
		[]string{"queue", "status"},
	)

	queueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_queue_dequeue_total",
			Help: "Total number of dequeue attempts by outcome",
		},
		[]string{"queue", "status"},
	)
)

func recordEnqueue(queue string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	queueEnqueueTotal.WithLabelValues(metricLabel(queue), status).Inc()
}

func recordDequeue(queue, status string) {
	queueDequeueTotal.WithLabelValues(metricLabel(queue), status).Inc()
}

func metricLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
