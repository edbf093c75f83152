// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"time"

	"github.com/canonical/mysql-router-operator/core/reconcile"
	"github.com/canonical/mysql-router-operator/core/relation"
)

const (
	// StateTopic carries a StateChange for every transition the engine
	// makes, self-transitions included.
	StateTopic = "mysqlrouter.reconcile.state"

	// TracingTopic carries a TracingChange whenever the tracing relation
	// changes.
	TracingTopic = "mysqlrouter.tracing.endpoint"
)

// StateChange is published on StateTopic.
type StateChange struct {
	From      reconcile.Phase
	To        reconcile.Phase
	Trigger   reconcile.Trigger
	Hash      string
	LastError string

	// Generation is the topology generation at the time of the change.
	Generation uint64

	// TLSExpiry is the expiry of the certificate in use, zero without TLS.
	TLSExpiry time.Time
}

// TracingChange is published on TracingTopic. An empty endpoint means
// tracing is no longer configured.
type TracingChange struct {
	Endpoint string
	Protocol string
}

// Publisher writes the unit's side of relation data.
type Publisher interface {
	// Publish replaces the unit's data on the relation.
	Publish(key relation.Key, bag relation.Bag) error

	// Clear removes the unit's data from the relation.
	Clear(key relation.Key) error
}
