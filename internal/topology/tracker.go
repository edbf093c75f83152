// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package topology tracks the backend cluster membership reported over the
// backend-database relations and derives a stable routing topology from it.
package topology

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/naturalsort"

	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/core/topology"
	"github.com/canonical/mysql-router-operator/internal/relationdata"
)

// contribution is what a single backend relation reported.
type contribution struct {
	readWrite set.Strings
	readOnly  set.Strings
	clusterID string
	endpoints map[string]topology.Endpoint
}

func (c contribution) equal(other contribution) bool {
	return c.clusterID == other.clusterID &&
		sameSet(c.readWrite, other.readWrite) &&
		sameSet(c.readOnly, other.readOnly)
}

func sameSet(a, b set.Strings) bool {
	return a.Size() == b.Size() && a.Difference(b).IsEmpty()
}

// Tracker merges backend contributions into a topology. It is not safe for
// concurrent use; the reconciler owns it.
type Tracker struct {
	contributions map[int]contribution
	current       topology.Topology
}

// NewTracker returns a tracker with no contributions and no primary.
func NewTracker() *Tracker {
	return &Tracker{contributions: make(map[int]contribution)}
}

// Current returns the topology as last derived.
func (t *Tracker) Current() topology.Topology {
	return t.current.Copy()
}

// Len returns the number of backend relations contributing members.
func (t *Tracker) Len() int {
	return len(t.contributions)
}

// Restore seeds the generation counter, so that generations keep increasing
// across agent restarts.
func (t *Tracker) Restore(generation uint64) {
	if generation > t.current.Generation {
		t.current.Generation = generation
	}
}

// Update folds a backend-database event into the tracked topology and
// returns the result. Replaying an event that carries no change returns the
// same topology with the same generation.
func (t *Tracker) Update(ev relation.Event) (topology.Topology, error) {
	if ev.Name() != relation.BackendDatabase {
		return t.Current(), errors.NotValidf("%s event for topology tracker", ev.Name())
	}
	id := ev.RelationID()
	if ev.Kind().Removing() {
		if _, ok := t.contributions[id]; !ok {
			return t.Current(), nil
		}
		delete(t.contributions, id)
		return t.recompute(), nil
	}

	data, err := relationdata.DecodeBackend(ev)
	if err != nil {
		return t.Current(), errors.Trace(err)
	}
	next := contribution{
		readWrite: set.NewStrings(),
		readOnly:  set.NewStrings(),
		clusterID: data.ClusterID,
		endpoints: make(map[string]topology.Endpoint),
	}
	for _, ep := range data.ReadWrite {
		next.readWrite.Add(ep.String())
		next.endpoints[ep.String()] = ep
	}
	for _, ep := range data.ReadOnly {
		next.readOnly.Add(ep.String())
		next.endpoints[ep.String()] = ep
	}
	if prev, ok := t.contributions[id]; ok && prev.equal(next) {
		return t.Current(), nil
	}
	t.contributions[id] = next
	return t.recompute(), nil
}

// recompute derives the topology from all contributions. The generation is
// bumped only when the members differ from the current topology.
func (t *Tracker) recompute() topology.Topology {
	claimants := set.NewStrings()
	members := set.NewStrings()
	endpoints := make(map[string]topology.Endpoint)
	clusters := set.NewStrings()
	for _, c := range t.contributions {
		claimants = claimants.Union(c.readWrite)
		members = members.Union(c.readWrite).Union(c.readOnly)
		for id, ep := range c.endpoints {
			endpoints[id] = ep
		}
		if c.clusterID != "" {
			clusters.Add(c.clusterID)
		}
	}

	next := topology.Topology{Generation: t.current.Generation}
	if !claimants.IsEmpty() {
		primaryID := naturalsort.Sort(claimants.Values())[0]
		primary := endpoints[primaryID]
		next.Primary = &primary
		members.Remove(primaryID)
	}
	for _, id := range naturalsort.Sort(members.Values()) {
		next.Secondaries = append(next.Secondaries, endpoints[id])
	}
	if clusters.Size() > 0 {
		next.ClusterID = clusters.SortedValues()[0]
	}

	if !next.SameMembers(t.current) {
		next.Generation++
	}
	t.current = next
	return t.Current()
}
