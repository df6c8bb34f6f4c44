package security

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus metrics for channel security
type Metrics struct {
	channelsInspected *prometheus.CounterVec
	accessDecisions   *prometheus.CounterVec
	policyReloads     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates security metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		channelsInspected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chansec_channels_inspected_total",
				Help: "Channels inspected by the gatekeeper by outcome (secured, skipped)",
			},
			[]string{"outcome"},
		),
		accessDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chansec_access_decisions_total",
				Help: "Access decisions on secured channels by operation and outcome (granted, denied, public)",
			},
			[]string{"operation", "outcome"},
		),
		policyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chansec_policy_reloads_total",
				Help: "Policy file reloads by outcome (success, error)",
			},
			[]string{"outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(m.channelsInspected, m.accessDecisions, m.policyReloads)
	return m
}

// Registry returns the registry holding the security metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordInspection(outcome string) {
	if m == nil {
		return
	}
	m.channelsInspected.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordDecision(operation, outcome string) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) recordReload(outcome string) {
	if m == nil {
		return
	}
	m.policyReloads.WithLabelValues(outcome).Inc()
}
