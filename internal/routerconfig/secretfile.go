// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package routerconfig

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/mysql-router-operator/core/secrets"
)

// SecretFile is a file the configuration refers to whose content lives in
// the secret store.
type SecretFile struct {
	Path string
	Ref  secrets.Ref

	// Key selects a single key of the secret value. An empty key writes
	// the value as a MySQL client option file.
	Key string

	// PasswordFile marks a router password file. It is maintained with
	// mysqlrouter_passwd from the username and password of the value and
	// is never written with Content.
	PasswordFile bool
}

// Content renders the file content from the resolved secret value.
func (f SecretFile) Content(value secrets.Value) ([]byte, error) {
	if f.PasswordFile {
		return nil, errors.NotSupportedf("content of password file %s", f.Path)
	}
	if f.Key != "" {
		v, ok := value[f.Key]
		if !ok {
			return nil, errors.NotFoundf("key %q in %s", f.Key, f.Ref)
		}
		return []byte(v), nil
	}
	user, ok := value[secrets.UsernameKey]
	if !ok {
		return nil, errors.NotFoundf("username in %s", f.Ref)
	}
	var b strings.Builder
	b.WriteString("[client]\n")
	fmt.Fprintf(&b, "user=%s\n", user)
	fmt.Fprintf(&b, "password=%s\n", value[secrets.PasswordKey])
	return []byte(b.String()), nil
}
