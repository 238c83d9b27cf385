// Package metrics exposes the process's Prometheus metrics on the
// management server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry gathers the component metrics registered through promauto on the
// default registerer (lock, queue, scheduler, worker) together with the
// management HTTP metrics and any collectors added with Register.
type Registry struct {
	registry *prometheus.Registry
	gatherer prometheus.Gatherer
}

// NewRegistry creates a registry. The default gatherer already carries the
// Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(httpRequestDuration, httpRequestsTotal)

	return &Registry{
		registry: reg,
		gatherer: prometheus.Gatherers{prometheus.DefaultGatherer, reg},
	}
}

// Register adds a custom collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// Handler serves every gathered metric in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
