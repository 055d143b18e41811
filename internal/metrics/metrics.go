// Package metrics exposes the engine's Prometheus counters for runs and
// broker submissions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the run engine's observability counters.
type Metrics struct {
	RunsTotal              *prometheus.CounterVec
	BrokerSubmissionsTotal *prometheus.CounterVec
	StepDurationSeconds    prometheus.Histogram
}

var (
	once     sync.Once
	instance *Metrics
)

// Default returns the process-wide Metrics singleton, registering its
// collectors on the default registry exactly once.
func Default() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optoutta",
				Name:      "runs_total",
				Help:      "Total opt-out runs started, labeled by final status.",
			}, []string{"status"}),
			BrokerSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "optoutta",
				Name:      "broker_submissions_total",
				Help:      "Total per-broker submission outcomes, labeled by status.",
			}, []string{"status"}),
			StepDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "optoutta",
				Name:      "step_duration_seconds",
				Help:      "Wall-clock time spent dispatching a single playbook step.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(instance.RunsTotal, instance.BrokerSubmissionsTotal, instance.StepDurationSeconds)
	})
	return instance
}
