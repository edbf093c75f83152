// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package secrets holds the secret reference and material types shared by
// the secret store and its consumers.
package secrets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Kind groups secret revisions that supersede one another.
type Kind string

const (
	// BackendCredentials are the credentials the router uses against the
	// backend cluster, as provided by the backend-database relation.
	BackendCredentials Kind = "backend-credentials"

	// MonitoringCredentials protect the router REST API used by the
	// metrics exporter.
	MonitoringCredentials Kind = "monitoring-credentials"

	// TLS is the certificate and key used to terminate client connections.
	TLS Kind = "tls"

	// TLSKey is the private key used to request certificates.
	TLSKey Kind = "tls-key"
)

// ClientCredentials returns the kind used for the credentials handed to the
// client application on the given database relation.
func ClientCredentials(relationID int) Kind {
	return Kind(fmt.Sprintf("client-credentials-%d", relationID))
}

const refPrefix = "secret:"

// Ref is an opaque handle to one revision of a secret.
type Ref struct {
	Kind     Kind
	ID       string
	Revision int
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.ID == "" && r.Revision == 0
}

// String returns the ref in its printed form, secret:<id>/<revision>.
func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s%s/%d", refPrefix, r.ID, r.Revision)
}

// ParseRef parses the printed form of a ref. The kind is not part of the
// printed form and is left empty.
func ParseRef(s string) (Ref, error) {
	if !strings.HasPrefix(s, refPrefix) {
		return Ref{}, errors.NotValidf("secret ref %q", s)
	}
	id, rev, ok := strings.Cut(strings.TrimPrefix(s, refPrefix), "/")
	if !ok || id == "" {
		return Ref{}, errors.NotValidf("secret ref %q", s)
	}
	revision, err := strconv.Atoi(rev)
	if err != nil || revision < 1 {
		return Ref{}, errors.NotValidf("secret ref %q revision", s)
	}
	return Ref{ID: id, Revision: revision}, nil
}

// Value is the content of a secret revision.
type Value map[string]string

// Equal reports whether both values hold the same content.
func (v Value) Equal(other Value) bool {
	if len(v) != len(other) {
		return false
	}
	for k, val := range v {
		if o, ok := other[k]; !ok || o != val {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of the value.
func (v Value) Copy() Value {
	out := make(Value, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Keys used inside secret values.
const (
	UsernameKey    = "username"
	PasswordKey    = "password"
	CertificateKey = "certificate"
	PrivateKeyKey  = "private-key"
	CAChainKey     = "ca-chain"
)

// Credentials reference a username/password pair held by the store.
type Credentials struct {
	Username        string
	Ref             Ref
	RotationVersion int
}

// TLSMaterial is the full TLS content held by the store.
type TLSMaterial struct {
	Certificate string
	PrivateKey  string
	CAChain     string
	Expiry      time.Time
	Version     int
}

// Value returns the secret value holding the material.
func (m TLSMaterial) Value() Value {
	return Value{
		CertificateKey: m.Certificate,
		PrivateKeyKey:  m.PrivateKey,
		CAChainKey:     m.CAChain,
	}
}

// TLSInfo is what long-lived state keeps about the TLS material in use.
type TLSInfo struct {
	Ref     Ref
	Version int
	Expiry  time.Time
}

// Expired reports whether the material has expired at the given time.
func (i TLSInfo) Expired(now time.Time) bool {
	return !now.Before(i.Expiry)
}
