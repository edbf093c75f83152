// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package version holds the operator's release version.
package version

const version = "0.1.0"

// Current is the version of the running operator.
var Current = version

// GitCommit is set at build time with
// -ldflags "-X github.com/canonical/mysql-router-operator/version.GitCommit=...".
var GitCommit string

// String returns the version, with the commit when known.
func String() string {
	if GitCommit == "" {
		return Current
	}
	return Current + "+" + GitCommit
}
