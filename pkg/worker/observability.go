package worker

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nimburion/taskcore/pkg/task"
)

var (
	workerExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_worker_executions_total",
			Help: "Total number of invocations handled by workers by outcome",
		},
		[]string{"queue", "task", "outcome"},
	)

	workerInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskcore_worker_inflight",
			Help: "Current number of invocations being executed",
		},
		[]string{"queue"},
	)

	workerAbandonedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_worker_abandoned_total",
			Help: "Total number of executions abandoned at the hard timeout",
		},
		[]string{"task"},
	)

	workerExecutionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskcore_worker_execution_seconds",
			Help:    "Execution duration of invocations by outcome",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"task", "outcome"},
	)
)

func recordExecution(queue, taskName string, outcome task.Outcome, duration time.Duration) {
	workerExecutionsTotal.WithLabelValues(
		normalizeWorkerLabel(queue),
		normalizeWorkerLabel(taskName),
		string(outcome),
	).Inc()
	workerExecutionSeconds.WithLabelValues(
		normalizeWorkerLabel(taskName),
		string(outcome),
	).Observe(duration.Seconds())
}

func recordAbandoned(taskName string) {
	workerAbandonedTotal.WithLabelValues(normalizeWorkerLabel(taskName)).Inc()
}

func incrementInFlight(queue string) {
	workerInFlight.WithLabelValues(normalizeWorkerLabel(queue)).Inc()
}

func decrementInFlight(queue string) {
	workerInFlight.WithLabelValues(normalizeWorkerLabel(queue)).Dec()
}

func normalizeWorkerLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
