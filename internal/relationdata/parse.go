// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relationdata translates relation bags into typed relation events
// and back.
package relationdata

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/schema"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/core/topology"
)

// Keys read from inbound relation bags.
const (
	EndpointsKey         = "endpoints"
	ReadOnlyEndpointsKey = "read-only-endpoints"
	UsernameKey          = "username"
	PasswordKey          = "password"
	ClusterIDKey         = "cluster-id"

	CertificateKey = "certificate"
	CAKey          = "ca"
	ChainKey       = "chain"

	DatabaseKey       = "database"
	ExtraUserRolesKey = "extra-user-roles"

	EndpointKey = "endpoint"
	ProtocolKey = "protocol"
)

// payloadCheckers declare the keys each relation must carry on joined and
// changed events. Unknown keys are ignored.
var payloadCheckers = map[relation.Name]schema.Checker{
	relation.BackendDatabase: schema.FieldMap(schema.Fields{
		EndpointsKey:         schema.NonEmptyString(EndpointsKey),
		UsernameKey:          schema.NonEmptyString(UsernameKey),
		PasswordKey:          schema.NonEmptyString(PasswordKey),
		ReadOnlyEndpointsKey: schema.String(),
		ClusterIDKey:         schema.String(),
	}, schema.Defaults{
		ReadOnlyEndpointsKey: schema.Omit,
		ClusterIDKey:         schema.Omit,
	}),
	relation.Certificates: schema.FieldMap(schema.Fields{
		CertificateKey: schema.NonEmptyString(CertificateKey),
		CAKey:          schema.NonEmptyString(CAKey),
		ChainKey:       schema.String(),
	}, schema.Defaults{
		ChainKey: schema.Omit,
	}),
	relation.Database: schema.FieldMap(schema.Fields{
		DatabaseKey:       schema.NonEmptyString(DatabaseKey),
		ExtraUserRolesKey: schema.String(),
	}, schema.Defaults{
		ExtraUserRolesKey: schema.Omit,
	}),
	relation.Tracing: schema.FieldMap(schema.Fields{
		EndpointKey: schema.NonEmptyString(EndpointKey),
		ProtocolKey: schema.String(),
	}, schema.Defaults{
		ProtocolKey: schema.Omit,
	}),
	relation.Logging: schema.FieldMap(schema.Fields{
		EndpointKey: schema.NonEmptyString(EndpointKey),
	}, schema.Defaults{}),
	relation.COSAgent: schema.FieldMap(schema.Fields{}, schema.Defaults{}),
}

// changedOnly lists the relations whose providers publish their data after
// the joined event, so joined may arrive empty.
var changedOnly = set.NewStrings(
	string(relation.Certificates),
	string(relation.Tracing),
	string(relation.Logging),
)

// Parse validates a raw relation bag and returns the relation event it
// describes. Any failure satisfies errors.Is(err, MalformedRelationData).
func Parse(raw relation.RawEvent) (relation.Event, error) {
	name := relation.Name(raw.RelationName)
	if !name.Valid() {
		return relation.Event{}, errors.Annotatef(coreerrors.MalformedRelationData, "unknown relation %q", raw.RelationName)
	}
	kind := relation.Kind(raw.Kind)
	if !kind.Valid() {
		return relation.Event{}, errors.Annotatef(coreerrors.MalformedRelationData, "%s:%d unknown event kind %q", name, raw.RelationID, raw.Kind)
	}
	if raw.RelationID < 0 {
		return relation.Event{}, errors.Annotatef(coreerrors.MalformedRelationData, "%s negative relation id %d", name, raw.RelationID)
	}
	payload := relation.Bag(raw.Data).Copy()
	if !kind.Removing() && !(kind == relation.Joined && changedOnly.Contains(string(name))) {
		if err := validatePayload(name, payload); err != nil {
			return relation.Event{}, errors.Annotatef(coreerrors.MalformedRelationData, "%s:%d %s: %v", name, raw.RelationID, kind, err)
		}
	}
	return relation.NewEvent(raw.RelationID, name, kind, raw.RemoteUnit, payload), nil
}

func validatePayload(name relation.Name, payload relation.Bag) error {
	checker, ok := payloadCheckers[name]
	if !ok {
		return nil
	}
	attrs := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		attrs[k] = v
	}
	if _, err := checker.Coerce(attrs, nil); err != nil {
		return err
	}
	if name != relation.BackendDatabase {
		return nil
	}
	rw, err := topology.ParseEndpoints(payload[EndpointsKey])
	if err != nil {
		return err
	}
	if len(rw) == 0 {
		return errors.Errorf("no read-write endpoint")
	}
	if _, err := topology.ParseEndpoints(payload[ReadOnlyEndpointsKey]); err != nil {
		return err
	}
	return nil
}
