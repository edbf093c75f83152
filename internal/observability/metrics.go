// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/mysql-router-operator/core/reconcile"
	"github.com/canonical/mysql-router-operator/internal/worker/reconciler"
)

const metricsNamespace = "mysqlrouter_operator"

// Collector is a prometheus.Collector that collects metrics about the
// reconciler of one unit.
type Collector struct {
	phase              *prometheus.GaugeVec
	transitions        *prometheus.CounterVec
	applies            *prometheus.CounterVec
	topologyGeneration prometheus.Gauge
	tlsExpiry          prometheus.Gauge
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "phase",
				Help:      "The current reconciliation phase, 1 for the active phase.",
			}, []string{"phase"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transitions_total",
				Help:      "The number of reconciliation state transitions.",
			}, []string{"from", "to", "trigger"},
		),
		applies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "applies_total",
				Help:      "The number of router configuration applies by result.",
			}, []string{"result"},
		),
		topologyGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "topology_generation",
				Help:      "The generation of the backend topology last reconciled.",
			},
		),
		tlsExpiry: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tls_expiry_timestamp_seconds",
				Help:      "The expiry of the unit certificate, 0 without TLS.",
			},
		),
	}
}

// Observe records a state change.
func (c *Collector) Observe(change reconciler.StateChange) {
	for _, phase := range reconcile.Phases {
		value := 0.0
		if phase == change.To {
			value = 1
		}
		c.phase.WithLabelValues(string(phase)).Set(value)
	}
	c.transitions.WithLabelValues(string(change.From), string(change.To), string(change.Trigger)).Inc()
	switch change.Trigger {
	case reconcile.ApplySucceeded:
		c.applies.WithLabelValues("success").Inc()
	case reconcile.ApplyFailed:
		c.applies.WithLabelValues("failure").Inc()
	}
	c.topologyGeneration.Set(float64(change.Generation))
	if change.TLSExpiry.IsZero() {
		c.tlsExpiry.Set(0)
	} else {
		c.tlsExpiry.Set(float64(change.TLSExpiry.Unix()))
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.phase.Describe(ch)
	c.transitions.Describe(ch)
	c.applies.Describe(ch)
	c.topologyGeneration.Describe(ch)
	c.tlsExpiry.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.phase.Collect(ch)
	c.transitions.Collect(ch)
	c.applies.Collect(ch)
	c.topologyGeneration.Collect(ch)
	c.tlsExpiry.Collect(ch)
}
