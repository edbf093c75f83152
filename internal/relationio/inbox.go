// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relationio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/relation"
)

// inboxFilePattern matches <seq>-<relation-name>-<relation-id>-<kind>.yaml.
var inboxFilePattern = regexp.MustCompile(`^(\d+)-([a-z][a-z-]*)-(\d+)-([a-z]+)\.yaml$`)

// InboxFile identifies one event file in the inbox.
type InboxFile struct {
	Seq          uint64
	RelationName string
	RelationID   int
	Kind         string
}

// InboxFileName returns the file name of an event. The sequence number
// is zero padded so lexical order is delivery order.
func InboxFileName(seq uint64, ev relation.RawEvent) string {
	return fmt.Sprintf("%020d-%s-%d-%s.yaml", seq, ev.RelationName, ev.RelationID, ev.Kind)
}

// ParseInboxFileName parses an event file name.
func ParseInboxFileName(name string) (InboxFile, error) {
	m := inboxFilePattern.FindStringSubmatch(name)
	if m == nil {
		return InboxFile{}, errors.NotValidf("inbox file name %q", name)
	}
	seq, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return InboxFile{}, errors.NotValidf("inbox sequence %q", m[1])
	}
	id, err := strconv.Atoi(m[3])
	if err != nil {
		return InboxFile{}, errors.NotValidf("inbox relation id %q", m[3])
	}
	return InboxFile{Seq: seq, RelationName: m[2], RelationID: id, Kind: m[4]}, nil
}

// WriteEvent atomically places an event in the inbox directory.
func WriteEvent(dir string, seq uint64, ev relation.RawEvent) (string, error) {
	data, err := yaml.Marshal(ev)
	if err != nil {
		return "", errors.Annotate(err, "encoding relation event")
	}
	path := filepath.Join(dir, InboxFileName(seq, ev))
	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return "", errors.Annotatef(err, "writing %s", path)
	}
	return path, nil
}

// ReadEvent decodes an inbox file. Identity fields missing from the file
// body are taken from its name; fields that disagree with the name make
// the event malformed.
func ReadEvent(path string) (relation.RawEvent, error) {
	f, err := ParseInboxFileName(filepath.Base(path))
	if err != nil {
		return relation.RawEvent{}, errors.Trace(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return relation.RawEvent{}, errors.Trace(err)
	}
	var ev relation.RawEvent
	if err := yaml.Unmarshal(data, &ev); err != nil {
		return relation.RawEvent{}, errors.Annotatef(coreerrors.MalformedRelationData, "decoding %s: %v", filepath.Base(path), err)
	}
	if ev.RelationName == "" {
		ev.RelationName = f.RelationName
	}
	if ev.Kind == "" {
		ev.Kind = f.Kind
	}
	if ev.RelationID == 0 {
		ev.RelationID = f.RelationID
	}
	if ev.RelationName != f.RelationName || ev.Kind != f.Kind || ev.RelationID != f.RelationID {
		return relation.RawEvent{}, errors.Annotatef(coreerrors.MalformedRelationData,
			"%s holds %s:%d %s", filepath.Base(path), ev.RelationName, ev.RelationID, ev.Kind)
	}
	return ev, nil
}

// PendingEvents lists the event files in dir in delivery order. Files not
// named like events, including in-progress atomic writes, are skipped.
func PendingEvents(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		if _, err := ParseInboxFileName(entry.Name()); err != nil {
			continue
		}
		names = append(names, filepath.Join(dir, entry.Name()))
	}
	// os.ReadDir sorts by file name.
	return names, nil
}
