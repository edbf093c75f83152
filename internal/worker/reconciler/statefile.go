// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/canonical/mysql-router-operator/core/reconcile"
)

// PersistentState is what survives an agent restart.
type PersistentState struct {
	reconcile.State `yaml:",inline"`

	TopologyGeneration uint64 `yaml:"topology-generation,omitempty"`
	CredentialsVersion int    `yaml:"credentials-version,omitempty"`
	CredentialsDigest  string `yaml:"credentials-digest,omitempty"`
	TLSVersion         int    `yaml:"tls-version,omitempty"`
	TLSDigest          string `yaml:"tls-digest,omitempty"`
}

// StateFile holds the disk state of the engine.
type StateFile struct {
	path string
}

// NewStateFile returns a new StateFile using path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// ErrNoStateFile is returned by Read when the engine has never written
// its state.
var ErrNoStateFile = errors.New("reconciler state file does not exist")

// Read reads the state from the file. If the file does not exist it
// returns ErrNoStateFile.
func (f *StateFile) Read() (PersistentState, error) {
	var st PersistentState
	if err := utils.ReadYaml(f.path, &st); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return PersistentState{}, ErrNoStateFile
		}
		return PersistentState{}, errors.Annotatef(err, "reading reconciler state at %q", f.path)
	}
	if err := st.Validate(); err != nil {
		return PersistentState{}, errors.Annotatef(err, "cannot read reconciler state at %q", f.path)
	}
	return st, nil
}

// Write stores the supplied state to the file.
func (f *StateFile) Write(st PersistentState) error {
	if err := st.Validate(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(utils.WriteYaml(f.path, st))
}
