package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus metrics for failure handling and task execution
type Metrics struct {
	failures *prometheus.CounterVec
	publish  *prometheus.CounterVec
	tasks    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates messaging metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "error_handler_failures_total",
				Help: "Failures handed to the error handler",
			},
			nil,
		),
		publish: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "error_handler_publish_total",
				Help: "Error message publications by outcome (sent, dropped, skipped)",
			},
			[]string{"outcome"},
		),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "executor_tasks_total",
				Help: "Executed tasks by outcome (succeeded, failed, panicked, rejected)",
			},
			[]string{"outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(m.failures, m.publish, m.tasks)
	return m
}

// Registry returns the registry holding the messaging metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordFailure() {
	if m == nil {
		return
	}
	m.failures.WithLabelValues().Inc()
}

func (m *Metrics) recordPublish(outcome string) {
	if m == nil {
		return
	}
	m.publish.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordTask(outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
}
