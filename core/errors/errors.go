// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// MalformedRelationData is returned when an inbound relation bag cannot
	// be translated into a relation event. The event is dropped and the
	// reconciliation loop carries on.
	MalformedRelationData = errors.ConstError("malformed relation data")

	// IncompleteInputs is returned by the config renderer when no valid
	// router configuration can be derived from the current inputs, for
	// example before the backend relation has provided a primary.
	IncompleteInputs = errors.ConstError("incomplete inputs")

	// RouterApplyFailed is returned when the router did not become healthy
	// within the health-check budget after a configuration was applied.
	RouterApplyFailed = errors.ConstError("router apply failed")

	// CredentialRotationConflict is returned when a rotation is requested
	// for a secret kind that already has a rotation in flight.
	CredentialRotationConflict = errors.ConstError("credential rotation conflict")

	// TLSExpired is returned when the TLS material that would be used to
	// terminate client connections has already expired.
	TLSExpired = errors.ConstError("tls material expired")
)
