package scheduler

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	schedulerDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_scheduler_dispatch_total",
			Help: "Total number of scheduler dispatch attempts by outcome",
		},
		[]string{"entry", "status"},
	)

	schedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		},
		[]string{"status"},
	)
)

func recordDispatch(entry, status string) {
	schedulerDispatchTotal.WithLabelValues(
		normalizeSchedulerLabel(entry),
		normalizeSchedulerLabel(status),
	).Inc()
}

func recordTick(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	schedulerTicksTotal.WithLabelValues(status).Inc()
}

func normalizeSchedulerLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
