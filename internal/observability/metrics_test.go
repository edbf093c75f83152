// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observability

import (
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"github.com/canonical/mysql-router-operator/core/reconcile"
	"github.com/canonical/mysql-router-operator/internal/worker/reconciler"
)

type collectorSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&collectorSuite{})

func (s *collectorSuite) TestObserve(c *gc.C) {
	collector := NewMetricsCollector()
	expiry := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	for _, change := range []reconciler.StateChange{
		{From: reconcile.Idle, To: reconcile.Pending, Trigger: reconcile.InputsChanged, Generation: 3},
		{From: reconcile.Pending, To: reconcile.Applying, Trigger: reconcile.RenderChanged, Generation: 3},
		{From: reconcile.Applying, To: reconcile.Degraded, Trigger: reconcile.ApplyFailed, Generation: 3},
		{From: reconcile.Degraded, To: reconcile.Pending, Trigger: reconcile.RetryDue, Generation: 3},
		{From: reconcile.Pending, To: reconcile.Applying, Trigger: reconcile.RenderChanged, Generation: 3},
		{From: reconcile.Applying, To: reconcile.Idle, Trigger: reconcile.ApplySucceeded, Generation: 3, TLSExpiry: expiry},
	} {
		collector.Observe(change)
	}

	c.Check(testutil.ToFloat64(collector.phase.WithLabelValues("idle")), gc.Equals, 1.0)
	c.Check(testutil.ToFloat64(collector.phase.WithLabelValues("degraded")), gc.Equals, 0.0)
	c.Check(testutil.ToFloat64(collector.transitions.WithLabelValues("pending", "applying", "render-changed")), gc.Equals, 2.0)
	c.Check(testutil.ToFloat64(collector.applies.WithLabelValues("success")), gc.Equals, 1.0)
	c.Check(testutil.ToFloat64(collector.applies.WithLabelValues("failure")), gc.Equals, 1.0)
	c.Check(testutil.ToFloat64(collector.topologyGeneration), gc.Equals, 3.0)
	c.Check(testutil.ToFloat64(collector.tlsExpiry), gc.Equals, float64(expiry.Unix()))
}

func (s *collectorSuite) TestRegister(c *gc.C) {
	registry := prometheus.NewPedanticRegistry()
	collector := NewMetricsCollector()
	c.Assert(registry.Register(collector), jc.ErrorIsNil)
	collector.Observe(reconciler.StateChange{From: reconcile.Idle, To: reconcile.Pending, Trigger: reconcile.InputsChanged})

	families, err := registry.Gather()
	c.Assert(err, jc.ErrorIsNil)
	var names []string
	for _, family := range families {
		names = append(names, family.GetName())
	}
	c.Assert(names, jc.SameContents, []string{
		"mysqlrouter_operator_phase",
		"mysqlrouter_operator_transitions_total",
		"mysqlrouter_operator_topology_generation",
		"mysqlrouter_operator_tls_expiry_timestamp_seconds",
	})
}
