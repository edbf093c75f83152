// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mysqlshell provisions client databases and users on the backend
// cluster by running SQL through MySQL Shell on the workload.
package mysqlshell

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/mysql-router-operator/core/topology"
)

//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/runner_mock.go github.com/canonical/mysql-router-operator/internal/mysqlshell Runner

const (
	// DefaultBinary is the MySQL Shell executable.
	DefaultBinary = "mysqlsh"

	// BackendUnreachable is returned when the shell cannot connect to the
	// backend endpoint.
	BackendUnreachable = errors.ConstError("backend unreachable")

	dbaRolePrefix = "charmed_dba"
	roleRead      = "charmed_read"
	roleDML       = "charmed_dml"
	roleMaxLength = 32
)

// Runner runs a command on the workload.
type Runner interface {
	Exec(ctx context.Context, command []string, stdin string) (string, error)
}

// Logger represents the methods used by the shell for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
}

// Connection is the backend endpoint and the account the shell logs in
// with.
type Connection struct {
	Endpoint topology.Endpoint
	Username string
	Password string
}

// ClientUser is an application account scoped to one database.
type ClientUser struct {
	Username string
	Password string
	Database string

	// Roles are extra charmed_* roles granted to the user.
	Roles []string
}

// Config holds the dependencies of a Shell.
type Config struct {
	Runner   Runner
	Logger   Logger
	UnitName string

	// Binary is the shell executable. It defaults to DefaultBinary.
	Binary string
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.UnitName == "" {
		return errors.NotValidf("empty UnitName")
	}
	return nil
}

// Shell runs SQL against the backend cluster.
type Shell struct {
	config Config
}

// New returns a shell for the configured workload.
func New(config Config) (*Shell, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	return &Shell{config: config}, nil
}

// CreateClientUser creates the user's database, its DBA role and the user
// itself, or updates the password of an existing user. It is safe to call
// again for the same user.
func (s *Shell) CreateClientUser(ctx context.Context, conn Connection, user ClientUser) error {
	if user.Username == "" || user.Database == "" {
		return errors.NotValidf("client user %q on database %q", user.Username, user.Database)
	}
	dbaRole := DBARole(user.Database)
	grants, err := roleGrants(user, dbaRole)
	if err != nil {
		return errors.Trace(err)
	}
	attributes, err := json.Marshal(map[string]string{
		"created_by_user":      conn.Username,
		"created_by_juju_unit": s.config.UnitName,
	})
	if err != nil {
		return errors.Trace(err)
	}

	db := quoteIdentifier(user.Database)
	name := quoteIdentifier(user.Username)
	password := quoteString(user.Password)
	statements := []string{
		"CREATE DATABASE IF NOT EXISTS " + db,
		"CREATE ROLE IF NOT EXISTS " + quoteIdentifier(dbaRole),
		fmt.Sprintf("GRANT SELECT, INSERT, DELETE, UPDATE, EXECUTE ON %s.* TO %s", db, quoteIdentifier(dbaRole)),
		fmt.Sprintf("GRANT ALTER, ALTER ROUTINE, CREATE, CREATE ROUTINE, CREATE VIEW, DROP, INDEX, "+
			"LOCK TABLES, REFERENCES, TRIGGER ON %s.* TO %s", db, quoteIdentifier(dbaRole)),
		fmt.Sprintf("CREATE USER IF NOT EXISTS %s IDENTIFIED BY %s ATTRIBUTE %s", name, password, quoteString(string(attributes))),
		fmt.Sprintf("ALTER USER %s IDENTIFIED BY %s", name, password),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON %s.* TO %s", db, name),
	}
	statements = append(statements, grants...)

	s.config.Logger.Debugf("creating user %q on database %q", user.Username, user.Database)
	if err := s.run(ctx, conn, statements); err != nil {
		return errors.Annotatef(err, "creating user %q", user.Username)
	}
	s.config.Logger.Infof("provisioned user %q on database %q", user.Username, user.Database)
	return nil
}

// DeleteUser drops the user if it exists.
func (s *Shell) DeleteUser(ctx context.Context, conn Connection, username string) error {
	if username == "" {
		return errors.NotValidf("empty username")
	}
	s.config.Logger.Debugf("deleting user %q", username)
	if err := s.run(ctx, conn, []string{"DROP USER IF EXISTS " + quoteIdentifier(username)}); err != nil {
		return errors.Annotatef(err, "deleting user %q", username)
	}
	return nil
}

// roleGrants returns the statements granting the user's extra roles.
func roleGrants(user ClientUser, dbaRole string) ([]string, error) {
	db := quoteIdentifier(user.Database)
	name := quoteIdentifier(user.Username)
	var statements []string
	for _, role := range user.Roles {
		switch role {
		case dbaRolePrefix:
			statements = append(statements, fmt.Sprintf("GRANT %s TO %s", quoteIdentifier(dbaRole), name))
		case roleRead:
			statements = append(statements,
				fmt.Sprintf("GRANT SELECT ON %s.* TO %s", db, quoteIdentifier(roleRead)),
				fmt.Sprintf("GRANT %s TO %s", quoteIdentifier(roleRead), name),
			)
		case roleDML:
			statements = append(statements,
				fmt.Sprintf("GRANT SELECT, INSERT, DELETE, UPDATE ON %s.* TO %s", db, quoteIdentifier(roleDML)),
				fmt.Sprintf("GRANT %s TO %s", quoteIdentifier(roleDML), name),
			)
		default:
			return nil, errors.NotValidf("extra user role %q", role)
		}
	}
	if len(statements) > 0 {
		statements = append(statements, "SET DEFAULT ROLE ALL TO "+name)
	}
	return statements, nil
}

func (s *Shell) run(ctx context.Context, conn Connection, statements []string) error {
	command := []string{
		s.config.Binary,
		"--passwords-from-stdin",
		"--uri", fmt.Sprintf("%s@%s", conn.Username, conn.Endpoint.String()),
		"--sql",
	}
	var stdin strings.Builder
	stdin.WriteString(conn.Password)
	stdin.WriteString("\n")
	for _, stmt := range statements {
		stdin.WriteString(stmt)
		stdin.WriteString(";\n")
	}
	_, err := s.config.Runner.Exec(ctx, command, stdin.String())
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "2003") {
		return errors.Annotatef(BackendUnreachable, "%s: %v", conn.Endpoint, err)
	}
	return errors.Trace(err)
}

// DBARole returns the database-level DBA role for database, truncated to
// the server's role name limit.
func DBARole(database string) string {
	available := roleMaxLength - len(dbaRolePrefix) - 1
	if len(database) > available {
		database = database[:available]
	}
	return dbaRolePrefix + "_" + database
}

func quoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
