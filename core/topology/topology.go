// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package topology describes the backend cluster endpoints the router
// routes to.
package topology

import (
	"net"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Endpoint is a backend MySQL server address.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint parses a host:port endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, errors.NotValidf("endpoint %q", s)
	}
	if host == "" {
		return Endpoint{}, errors.NotValidf("endpoint %q with empty host", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, errors.NotValidf("endpoint %q port", s)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// ParseEndpoints parses a comma separated list of endpoints. Empty entries
// are ignored.
func ParseEndpoints(s string) ([]Endpoint, error) {
	var result []Endpoint
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ep, err := ParseEndpoint(part)
		if err != nil {
			return nil, errors.Trace(err)
		}
		result = append(result, ep)
	}
	return result, nil
}

// String returns the endpoint identifier, host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Topology is a snapshot of the backend cluster as seen by the router.
type Topology struct {
	// Primary is the read-write member, nil if none is available.
	Primary *Endpoint

	// Secondaries are the read-only members, in natural order.
	Secondaries []Endpoint

	// ClusterID names the backend cluster.
	ClusterID string

	// Generation increments on every membership change.
	Generation uint64
}

// HasPrimary reports whether the topology has a routable primary.
func (t Topology) HasPrimary() bool {
	return t.Primary != nil
}

// Copy returns a deep copy of the topology.
func (t Topology) Copy() Topology {
	out := Topology{
		ClusterID:  t.ClusterID,
		Generation: t.Generation,
	}
	if t.Primary != nil {
		p := *t.Primary
		out.Primary = &p
	}
	if len(t.Secondaries) > 0 {
		out.Secondaries = append([]Endpoint(nil), t.Secondaries...)
	}
	return out
}

// SameMembers reports whether both topologies route to the same members,
// ignoring the generation.
func (t Topology) SameMembers(other Topology) bool {
	if t.ClusterID != other.ClusterID {
		return false
	}
	if (t.Primary == nil) != (other.Primary == nil) {
		return false
	}
	if t.Primary != nil && *t.Primary != *other.Primary {
		return false
	}
	if len(t.Secondaries) != len(other.Secondaries) {
		return false
	}
	for i := range t.Secondaries {
		if t.Secondaries[i] != other.Secondaries[i] {
			return false
		}
	}
	return true
}
