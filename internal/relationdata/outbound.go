// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relationdata

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/core/secrets"
)

// Keys written to outbound relation bags.
const (
	SecretUserKey                 = "secret-user"
	CertificateSigningRequestsKey = "certificate_signing_requests"
	COSConfigKey                  = "config"
)

// DatabaseProvides is published to a client application on the database
// relation.
type DatabaseProvides struct {
	Database          string
	Endpoints         []string
	ReadOnlyEndpoints []string
	Username          string
	SecretUser        secrets.Ref
}

// Encode returns the relation bag for the client relation.
func (p DatabaseProvides) Encode() (relation.Bag, error) {
	if p.Username == "" {
		return nil, errors.NotValidf("database provides without username")
	}
	if p.SecretUser.IsZero() {
		return nil, errors.NotValidf("database provides without secret")
	}
	if len(p.Endpoints) == 0 {
		return nil, errors.NotValidf("database provides without endpoints")
	}
	bag := relation.Bag{
		EndpointsKey:  strings.Join(p.Endpoints, ","),
		UsernameKey:   p.Username,
		SecretUserKey: p.SecretUser.String(),
	}
	if p.Database != "" {
		bag[DatabaseKey] = p.Database
	}
	if len(p.ReadOnlyEndpoints) > 0 {
		bag[ReadOnlyEndpointsKey] = strings.Join(p.ReadOnlyEndpoints, ",")
	}
	return bag, nil
}

// CertificateRequest asks the TLS provider for a certificate.
type CertificateRequest struct {
	UnitName string
	CSR      string
	SANs     []string
}

type csrEntry struct {
	CertificateSigningRequest string   `json:"certificate_signing_request"`
	UnitName                  string   `json:"unit_name"`
	SANs                      []string `json:"sans,omitempty"`
}

// Encode returns the relation bag for the certificates relation.
func (r CertificateRequest) Encode() (relation.Bag, error) {
	if r.CSR == "" {
		return nil, errors.NotValidf("empty certificate signing request")
	}
	sans := append([]string(nil), r.SANs...)
	sort.Strings(sans)
	data, err := json.Marshal([]csrEntry{{
		CertificateSigningRequest: strings.TrimSpace(r.CSR),
		UnitName:                  r.UnitName,
		SANs:                      sans,
	}})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return relation.Bag{CertificateSigningRequestsKey: string(data)}, nil
}

// MetricsEndpoint is a scrape target advertised to the COS agent.
type MetricsEndpoint struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

// COSAgentProvides is published to the COS agent subordinate.
type COSAgentProvides struct {
	MetricsEndpoints []MetricsEndpoint
	LogSlots         []string
	TracingProtocols []string
}

type cosConfig struct {
	MetricsScrapeJobs []MetricsEndpoint `json:"metrics_scrape_jobs"`
	LogSlots          []string          `json:"log_slots"`
	TracingProtocols  []string          `json:"tracing_protocols"`
}

// Encode returns the relation bag for the cos-agent relation.
func (p COSAgentProvides) Encode() (relation.Bag, error) {
	cfg := cosConfig{
		MetricsScrapeJobs: p.MetricsEndpoints,
		LogSlots:          p.LogSlots,
		TracingProtocols:  p.TracingProtocols,
	}
	if cfg.MetricsScrapeJobs == nil {
		cfg.MetricsScrapeJobs = []MetricsEndpoint{}
	}
	if cfg.LogSlots == nil {
		cfg.LogSlots = []string{}
	}
	if cfg.TracingProtocols == nil {
		cfg.TracingProtocols = []string{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return relation.Bag{COSConfigKey: string(data)}, nil
}
