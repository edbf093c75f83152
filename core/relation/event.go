// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation holds the relation event types consumed by the
// reconciliation engine.
package relation

import (
	"fmt"
	"sort"
)

// Name identifies a declared relation endpoint of the router charm.
type Name string

const (
	// BackendDatabase is the required relation to the MySQL cluster.
	BackendDatabase Name = "backend-database"

	// Database is the provided client-facing relation.
	Database Name = "database"

	// Certificates is the required relation to a TLS provider.
	Certificates Name = "certificates"

	// Tracing is the required relation to a tracing backend.
	Tracing Name = "tracing"

	// Logging is the optional relation to a log aggregator.
	Logging Name = "logging"

	// COSAgent is the provided relation to the observability agent.
	COSAgent Name = "cos-agent"
)

// Names lists every relation endpoint the engine understands.
var Names = []Name{BackendDatabase, Database, Certificates, Tracing, Logging, COSAgent}

// Valid reports whether n is a known relation endpoint.
func (n Name) Valid() bool {
	for _, known := range Names {
		if n == known {
			return true
		}
	}
	return false
}

// Kind is the kind of relation hook an event was raised for.
type Kind string

const (
	Joined   Kind = "joined"
	Changed  Kind = "changed"
	Departed Kind = "departed"
	Broken   Kind = "broken"
)

// Valid reports whether k is a known relation event kind.
func (k Kind) Valid() bool {
	switch k {
	case Joined, Changed, Departed, Broken:
		return true
	}
	return false
}

// Removing reports whether the event kind removes data from the relation.
func (k Kind) Removing() bool {
	return k == Departed || k == Broken
}

// Bag is the key-value data exchanged over a relation.
type Bag map[string]string

// Copy returns an independent copy of the bag.
func (b Bag) Copy() Bag {
	if b == nil {
		return Bag{}
	}
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Equal reports whether both bags carry the same data.
func (b Bag) Equal(other Bag) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns the bag's keys in sorted order.
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RawEvent is an event as delivered by the deployment glue, before any
// validation has taken place.
type RawEvent struct {
	RelationID   int               `yaml:"relation-id"`
	RelationName string            `yaml:"relation-name"`
	Kind         string            `yaml:"kind"`
	RemoteUnit   string            `yaml:"remote-unit,omitempty"`
	Data         map[string]string `yaml:"data,omitempty"`
}

// Event is a validated relation event. It is immutable once built.
type Event struct {
	relationID int
	name       Name
	kind       Kind
	remoteUnit string
	payload    Bag
}

// NewEvent returns a new event, copying the supplied payload.
func NewEvent(relationID int, name Name, kind Kind, remoteUnit string, payload Bag) Event {
	return Event{
		relationID: relationID,
		name:       name,
		kind:       kind,
		remoteUnit: remoteUnit,
		payload:    payload.Copy(),
	}
}

// RelationID returns the id of the relation instance.
func (e Event) RelationID() int { return e.relationID }

// Name returns the relation endpoint name.
func (e Event) Name() Name { return e.name }

// Kind returns the event kind.
func (e Event) Kind() Kind { return e.kind }

// RemoteUnit returns the remote unit that triggered the event, if any.
func (e Event) RemoteUnit() string { return e.remoteUnit }

// Payload returns a copy of the event data.
func (e Event) Payload() Bag { return e.payload.Copy() }

// Get returns a single payload value.
func (e Event) Get(key string) string { return e.payload[key] }

// Key identifies the relation instance the event belongs to.
func (e Event) Key() Key {
	return Key{Name: e.name, ID: e.relationID}
}

// String is part of fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("%s:%d %s", e.name, e.relationID, e.kind)
}

// Key identifies a relation instance.
type Key struct {
	Name Name
	ID   int
}

// String is part of fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Name, k.ID)
}
