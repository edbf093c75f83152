// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package routerconfig

import (
	"sort"

	"github.com/canonical/mysql-router-operator/core/secrets"
)

const (
	authRealm           = "default_auth_realm"
	authBackend         = "default_auth_backend"
	restCredentialsFile = "rest_api_credentials"
)

// Exporter describes the metrics exporter scraping the router REST API.
type Exporter struct {
	ListenPort int
	URL        string

	// Credentials hold the REST API user the exporter logs in as.
	Credentials secrets.Ref
}

// LogTarget is a log push endpoint receiving the router's console log.
type LogTarget struct {
	Name     string
	Location string
}

func sortedTargets(targets []LogTarget) []LogTarget {
	if len(targets) == 0 {
		return nil
	}
	out := append([]LogTarget(nil), targets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
