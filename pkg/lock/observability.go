package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_lock_acquire_total",
			Help: "Total number of lock acquisition attempts",
		},
		[]string{"backend", "result"},
	)

	lockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskcore_lock_release_total",
			Help: "Total number of lock release attempts",
		},
		[]string{"backend", "result"},
	)
)

func recordAcquire(backend string, acquired bool, err error) {
	result := "contended"
	switch {
	case err != nil:
		result = "error"
	case acquired:
		result = "acquired"
	}
	lockAcquireTotal.WithLabelValues(backend, result).Inc()
}

func recordRelease(backend string, released bool, err error) {
	result := "noop"
	switch {
	case err != nil:
		result = "error"
	case released:
		result = "released"
	}
	lockReleaseTotal.WithLabelValues(backend, result).Inc()
}
