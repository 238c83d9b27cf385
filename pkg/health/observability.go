package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskcore_health_check_up",
			Help: "1 when the named dependency check last passed, 0 otherwise",
		},
		[]string{"check", "optional"},
	)

	checkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskcore_health_check_duration_seconds",
			Help:    "Duration of dependency health checks",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"check"},
	)
)

func recordCheck(result CheckResult) {
	optional := "false"
	if result.Optional {
		optional = "true"
	}
	up := 0.0
	if result.Status == StatusHealthy {
		up = 1
	}
	checkUp.WithLabelValues(result.Name, optional).Set(up)
	checkDuration.WithLabelValues(result.Name).Observe(result.Duration.Seconds())
}
