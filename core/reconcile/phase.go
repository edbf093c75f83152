// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconcile defines the phases of the router reconciliation state
// machine and the transitions between them.
package reconcile

import (
	"github.com/juju/errors"
)

// Phase is the reconciliation phase of a router unit.
type Phase string

const (
	// Idle means the applied configuration matches the current inputs.
	Idle Phase = "idle"

	// Pending means inputs changed and a render has not been attempted.
	Pending Phase = "pending"

	// Applying means the lifecycle controller is applying a configuration.
	Applying Phase = "applying"

	// Degraded means the last apply failed and the router is serving the
	// last-known-good configuration.
	Degraded Phase = "degraded"

	// Blocked means no valid configuration can currently be derived.
	Blocked Phase = "blocked"
)

// Phases lists every phase.
var Phases = []Phase{Idle, Pending, Applying, Degraded, Blocked}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case Idle, Pending, Applying, Degraded, Blocked:
		return true
	}
	return false
}

// Trigger is something that happened to the engine.
type Trigger string

const (
	// InputsChanged fires when a relation event changed render inputs.
	InputsChanged Trigger = "inputs-changed"

	// EventIgnored fires for events that do not feed rendering, including
	// malformed ones.
	EventIgnored Trigger = "event-ignored"

	// RenderUnchanged fires when the render produced the applied hash.
	RenderUnchanged Trigger = "render-unchanged"

	// RenderChanged fires when the render produced a new hash.
	RenderChanged Trigger = "render-changed"

	// RenderFailed fires when no config could be derived, or the TLS
	// material has expired.
	RenderFailed Trigger = "render-failed"

	// ApplySucceeded fires when the router became healthy on the new config.
	ApplySucceeded Trigger = "apply-succeeded"

	// ApplyFailed fires when the router did not become healthy.
	ApplyFailed Trigger = "apply-failed"

	// RetryDue fires when the degraded retry timer expires.
	RetryDue Trigger = "retry-due"

	// ExpiryDue fires when the TLS material in use reaches its expiry.
	ExpiryDue Trigger = "expiry-due"
)

type transitionKey struct {
	from    Phase
	trigger Trigger
}

// transitions is the complete table of the state machine. A missing entry
// is a programming error.
var transitions = map[transitionKey]Phase{
	{Idle, InputsChanged}:     Pending,
	{Degraded, InputsChanged}: Pending,
	{Blocked, InputsChanged}:  Pending,
	{Pending, InputsChanged}:  Pending,

	{Idle, EventIgnored}:     Idle,
	{Pending, EventIgnored}:  Pending,
	{Degraded, EventIgnored}: Degraded,
	{Blocked, EventIgnored}:  Blocked,

	{Pending, RenderUnchanged}: Idle,
	{Pending, RenderChanged}:   Applying,
	{Pending, RenderFailed}:    Blocked,

	{Applying, ApplySucceeded}: Idle,
	{Applying, ApplyFailed}:    Degraded,

	{Degraded, RetryDue}: Pending,

	{Idle, ExpiryDue}:     Pending,
	{Degraded, ExpiryDue}: Pending,
	{Blocked, ExpiryDue}:  Blocked,
	{Pending, ExpiryDue}:  Pending,
}

// Next returns the phase reached by applying trigger in phase from. It
// returns an error when no such transition is defined.
func Next(from Phase, trigger Trigger) (Phase, error) {
	to, ok := transitions[transitionKey{from: from, trigger: trigger}]
	if !ok {
		return from, errors.Errorf("no transition from %q on %q", from, trigger)
	}
	return to, nil
}

// State is the reconciliation state of a router unit.
type State struct {
	Phase           Phase  `yaml:"phase"`
	LastAppliedHash string `yaml:"last-applied-hash,omitempty"`
	LastError       string `yaml:"last-error,omitempty"`
}

// Validate returns an error if the state is not usable.
func (s State) Validate() error {
	if !s.Phase.Valid() {
		return errors.NotValidf("phase %q", s.Phase)
	}
	return nil
}
