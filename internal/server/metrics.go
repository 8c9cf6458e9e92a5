package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the server's Prometheus instrumentation. Each server
// carries its own registry so tests can run several side by side.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	errors   prometheus.Counter
}

// newMetrics registers the counters. loadCount reports the session's
// cumulative checkpoint loads and is exported as a counter.
func newMetrics(loadCount func() float64) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "pth_viewer",
		Name:      "checkpoint_loads_total",
		Help:      "Checkpoints opened and deserialized.",
	}, loadCount)
	return &metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pth_viewer",
			Name:      "requests_total",
			Help:      "Requests handled, by command.",
		}, []string{"command"}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pth_viewer",
			Name:      "request_errors_total",
			Help:      "Requests answered with an error body.",
		}),
	}
}
