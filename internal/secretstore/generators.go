// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package secretstore

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/canonical/mysql-router-operator/core/secrets"
)

const clientCredentialsPrefix = "client-credentials-"

// PasswordGenerator returns a generator of username/password pairs. The
// username is derived from the kind by usernameFor.
func PasswordGenerator(usernameFor func(secrets.Kind) string) Generator {
	return func(kind secrets.Kind) (secrets.Value, error) {
		password, err := utils.RandomPassword()
		if err != nil {
			return nil, errors.Trace(err)
		}
		return secrets.Value{
			secrets.UsernameKey: usernameFor(kind),
			secrets.PasswordKey: password,
		}, nil
	}
}

// ClientUsername returns the MySQL user handed to the client application
// of a client credentials kind, relation-<id>.
func ClientUsername(kind secrets.Kind) string {
	return fmt.Sprintf("relation-%s", strings.TrimPrefix(string(kind), clientCredentialsPrefix))
}

// DefaultGenerators are the generators the agent registers.
func DefaultGenerators(unitName string) map[string]Generator {
	monitoringUser := "monitoring-" + strings.ReplaceAll(unitName, "/", "-")
	monitoring := PasswordGenerator(func(secrets.Kind) string {
		return monitoringUser
	})
	return map[string]Generator{
		clientCredentialsPrefix:               PasswordGenerator(ClientUsername),
		string(secrets.MonitoringCredentials): monitoring,
	}
}
