// Package metrics exposes RemoteIO server metrics to Prometheus.
//
// Collection is optional: until InitRegistry is called every constructor
// returns a no-op implementation and the server pays nothing for metrics.
//
//	metrics.InitRegistry()
//	m := prometheus.NewRemoteIOMetrics()
//	srv := remoteio.New(cfg, m)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process registry with Go runtime and process
// collectors. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
