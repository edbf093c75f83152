// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relationdata

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/core/topology"
)

// BackendData is the content of a backend-database relation bag.
type BackendData struct {
	ReadWrite []topology.Endpoint
	ReadOnly  []topology.Endpoint
	ClusterID string
	Username  string
	Password  string
}

// DecodeBackend decodes a backend-database joined or changed event.
func DecodeBackend(ev relation.Event) (BackendData, error) {
	if err := expect(ev, relation.BackendDatabase); err != nil {
		return BackendData{}, errors.Trace(err)
	}
	rw, err := topology.ParseEndpoints(ev.Get(EndpointsKey))
	if err != nil {
		return BackendData{}, errors.Trace(err)
	}
	ro, err := topology.ParseEndpoints(ev.Get(ReadOnlyEndpointsKey))
	if err != nil {
		return BackendData{}, errors.Trace(err)
	}
	return BackendData{
		ReadWrite: rw,
		ReadOnly:  ro,
		ClusterID: ev.Get(ClusterIDKey),
		Username:  ev.Get(UsernameKey),
		Password:  ev.Get(PasswordKey),
	}, nil
}

// CertificatesData is the content of a certificates relation bag.
type CertificatesData struct {
	Certificate string
	CA          string
	Chain       string
}

// CAChain returns the CA followed by any intermediate chain, PEM encoded.
func (d CertificatesData) CAChain() string {
	if d.Chain == "" {
		return d.CA
	}
	return strings.TrimRight(d.CA, "\n") + "\n" + d.Chain
}

// DecodeCertificates decodes a certificates joined or changed event.
func DecodeCertificates(ev relation.Event) (CertificatesData, error) {
	if err := expect(ev, relation.Certificates); err != nil {
		return CertificatesData{}, errors.Trace(err)
	}
	return CertificatesData{
		Certificate: ev.Get(CertificateKey),
		CA:          ev.Get(CAKey),
		Chain:       ev.Get(ChainKey),
	}, nil
}

// DatabaseRequest is what a client application asks for on the database
// relation.
type DatabaseRequest struct {
	Database       string
	ExtraUserRoles []string
}

// DecodeDatabaseRequest decodes a database joined or changed event.
func DecodeDatabaseRequest(ev relation.Event) (DatabaseRequest, error) {
	if err := expect(ev, relation.Database); err != nil {
		return DatabaseRequest{}, errors.Trace(err)
	}
	req := DatabaseRequest{Database: ev.Get(DatabaseKey)}
	for _, role := range strings.Split(ev.Get(ExtraUserRolesKey), ",") {
		if role = strings.TrimSpace(role); role != "" {
			req.ExtraUserRoles = append(req.ExtraUserRoles, role)
		}
	}
	return req, nil
}

// DefaultTracingProtocol is used when the tracing relation names none.
const DefaultTracingProtocol = "otlp_grpc"

// TracingData is the content of a tracing relation bag.
type TracingData struct {
	Endpoint string
	Protocol string
}

// DecodeTracing decodes a tracing joined or changed event.
func DecodeTracing(ev relation.Event) (TracingData, error) {
	if err := expect(ev, relation.Tracing); err != nil {
		return TracingData{}, errors.Trace(err)
	}
	protocol := ev.Get(ProtocolKey)
	if protocol == "" {
		protocol = DefaultTracingProtocol
	}
	return TracingData{
		Endpoint: ev.Get(EndpointKey),
		Protocol: protocol,
	}, nil
}

// LoggingData is the content of a logging relation bag.
type LoggingData struct {
	// Endpoint is the push URL, empty until the aggregator provides one.
	Endpoint string
}

// DecodeLogging decodes a logging changed event. The endpoint is either a
// push URL or a JSON object carrying it under "url".
func DecodeLogging(ev relation.Event) (LoggingData, error) {
	if err := expect(ev, relation.Logging); err != nil {
		return LoggingData{}, errors.Trace(err)
	}
	raw := strings.TrimSpace(ev.Get(EndpointKey))
	if raw == "" {
		return LoggingData{}, nil
	}
	if strings.HasPrefix(raw, "{") {
		var wrapped struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return LoggingData{}, errors.NotValidf("logging endpoint %q", raw)
		}
		raw = wrapped.URL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return LoggingData{}, errors.NotValidf("logging endpoint %q", raw)
	}
	return LoggingData{Endpoint: u.String()}, nil
}

func expect(ev relation.Event, name relation.Name) error {
	if ev.Name() != name {
		return errors.NotValidf("%s event for %s decoder", ev.Name(), name)
	}
	if ev.Kind().Removing() {
		return errors.NotValidf("decoding %s event", ev.Kind())
	}
	return nil
}
