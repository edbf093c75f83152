// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relationio exchanges relation data with the deployment glue
// through directories of YAML files. Inbound events are written to an
// inbox, one file per event; the unit's outbound bags are kept in an
// outbox, one file per relation.
package relationio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"

	"github.com/canonical/mysql-router-operator/core/relation"
)

// Logger represents the methods used for logging.
type Logger interface {
	Debugf(string, ...interface{})
}

// Outbox publishes the unit's relation bags as files named
// <relation-name>-<relation-id>.yaml.
type Outbox struct {
	dir    string
	logger Logger
}

// NewOutbox returns an Outbox writing into dir, which must exist.
func NewOutbox(dir string, logger Logger) *Outbox {
	return &Outbox{dir: dir, logger: logger}
}

// OutboxFileName returns the outbox file name for a relation.
func OutboxFileName(key relation.Key) string {
	return fmt.Sprintf("%s-%d.yaml", key.Name, key.ID)
}

// Publish replaces the bag published on a relation.
func (o *Outbox) Publish(key relation.Key, bag relation.Bag) error {
	data, err := yaml.Marshal(map[string]string(bag))
	if err != nil {
		return errors.Annotatef(err, "encoding %s bag", key)
	}
	path := filepath.Join(o.dir, OutboxFileName(key))
	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return errors.Annotatef(err, "publishing %s bag", key)
	}
	o.logger.Debugf("published %d keys on %s", len(bag), key)
	return nil
}

// Clear removes the bag published on a relation. Clearing a relation
// with nothing published is not an error.
func (o *Outbox) Clear(key relation.Key) error {
	err := os.Remove(filepath.Join(o.dir, OutboxFileName(key)))
	if err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "clearing %s bag", key)
	}
	return nil
}

// Read returns the bag published on a relation.
func (o *Outbox) Read(key relation.Key) (relation.Bag, error) {
	data, err := os.ReadFile(filepath.Join(o.dir, OutboxFileName(key)))
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("%s bag", key)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	var bag relation.Bag
	if err := yaml.Unmarshal(data, &bag); err != nil {
		return nil, errors.Annotatef(err, "decoding %s bag", key)
	}
	return bag, nil
}
