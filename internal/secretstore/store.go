// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package secretstore holds versioned credentials and TLS material for the
// router unit. Consumers only ever see refs; the content is resolved when
// the lifecycle controller writes it to the workload.
package secretstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/secrets"
)

// Generator produces fresh content for a rotated secret kind.
type Generator func(kind secrets.Kind) (secrets.Value, error)

// Logger represents the methods used by the store for logging.
type Logger interface {
	Debugf(string, ...interface{})
}

// Config holds the dependencies of a Store.
type Config struct {
	// Generators maps a kind, or a kind prefix ending in "-", to the
	// generator used by Rotate.
	Generators map[string]Generator
	Logger     Logger
}

type revision struct {
	number int
	value  secrets.Value
}

type secret struct {
	id        string
	latest    int
	revisions []revision
}

func (s *secret) find(rev int) (secrets.Value, bool) {
	for _, r := range s.revisions {
		if r.number == rev {
			return r.value, true
		}
	}
	return nil, false
}

// Store is an in-memory versioned secret store. It is safe for concurrent
// use; at most one Put or Rotate runs per kind at a time.
type Store struct {
	generators map[string]Generator
	logger     Logger

	mu      sync.Mutex
	secrets map[secrets.Kind]*secret
	byID    map[string]secrets.Kind
	guards  map[secrets.Kind]*semaphore.Weighted
}

// New returns an empty store.
func New(config Config) *Store {
	return &Store{
		generators: config.Generators,
		logger:     config.Logger,
		secrets:    make(map[secrets.Kind]*secret),
		byID:       make(map[string]secrets.Kind),
		guards:     make(map[secrets.Kind]*semaphore.Weighted),
	}
}

func (s *Store) guard(kind secrets.Kind) (release func(), err error) {
	s.mu.Lock()
	g, ok := s.guards[kind]
	if !ok {
		g = semaphore.NewWeighted(1)
		s.guards[kind] = g
	}
	s.mu.Unlock()
	if !g.TryAcquire(1) {
		return nil, errors.Annotatef(coreerrors.CredentialRotationConflict, "%s", kind)
	}
	return func() { g.Release(1) }, nil
}

// Put stores value as the latest revision of kind. Storing content equal
// to the latest revision returns the existing ref.
func (s *Store) Put(kind secrets.Kind, value secrets.Value) (secrets.Ref, error) {
	release, err := s.guard(kind)
	if err != nil {
		return secrets.Ref{}, errors.Trace(err)
	}
	defer release()
	return s.put(kind, value), nil
}

func (s *Store) put(kind secrets.Kind, value secrets.Value) secrets.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[kind]
	if !ok {
		sec = &secret{id: xid.New().String()}
		s.secrets[kind] = sec
		s.byID[sec.id] = kind
	}
	if latest, ok := sec.find(sec.latest); ok && latest.Equal(value) {
		return secrets.Ref{Kind: kind, ID: sec.id, Revision: sec.latest}
	}
	sec.latest++
	sec.revisions = append(sec.revisions, revision{number: sec.latest, value: value.Copy()})
	if s.logger != nil {
		s.logger.Debugf("stored %s revision %d", kind, sec.latest)
	}
	return secrets.Ref{Kind: kind, ID: sec.id, Revision: sec.latest}
}

// Rotate generates new content for kind and stores it as a new revision.
// A rotation racing another Put or Rotate of the same kind fails with
// CredentialRotationConflict.
func (s *Store) Rotate(kind secrets.Kind) (secrets.Ref, error) {
	gen, err := s.generator(kind)
	if err != nil {
		return secrets.Ref{}, errors.Trace(err)
	}
	release, err := s.guard(kind)
	if err != nil {
		return secrets.Ref{}, errors.Trace(err)
	}
	defer release()
	value, err := gen(kind)
	if err != nil {
		return secrets.Ref{}, errors.Annotatef(err, "generating %s", kind)
	}
	return s.put(kind, value), nil
}

func (s *Store) generator(kind secrets.Kind) (Generator, error) {
	if gen, ok := s.generators[string(kind)]; ok {
		return gen, nil
	}
	var prefixes []string
	for prefix := range s.generators {
		if strings.HasSuffix(prefix, "-") && strings.HasPrefix(string(kind), prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	if len(prefixes) == 0 {
		return nil, errors.NotFoundf("generator for %s", kind)
	}
	// Longest prefix wins.
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return s.generators[prefixes[0]], nil
}

// Get returns the content of a revision.
func (s *Store) Get(ref secrets.Ref) (secrets.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.lookup(ref)
	if !ok {
		return nil, errors.NotFoundf("secret %q", ref)
	}
	value, ok := sec.find(ref.Revision)
	if !ok {
		return nil, errors.NotFoundf("secret %q", ref)
	}
	return value.Copy(), nil
}

// Exists reports whether a revision can still be resolved.
func (s *Store) Exists(ref secrets.Ref) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.lookup(ref)
	if !ok {
		return false
	}
	_, ok = sec.find(ref.Revision)
	return ok
}

func (s *Store) lookup(ref secrets.Ref) (*secret, bool) {
	kind, ok := s.byID[ref.ID]
	if !ok {
		return nil, false
	}
	return s.secrets[kind], true
}

// Digest returns a sha256 digest of a revision's content.
func (s *Store) Digest(ref secrets.Ref) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.lookup(ref)
	if !ok {
		return "", false
	}
	value, ok := sec.find(ref.Revision)
	if !ok {
		return "", false
	}
	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s\x00%s\x00", k, value[k])
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// Latest returns the ref of the newest revision of kind.
func (s *Store) Latest(kind secrets.Kind) (secrets.Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[kind]
	if !ok || sec.latest == 0 {
		return secrets.Ref{}, false
	}
	return secrets.Ref{Kind: kind, ID: sec.id, Revision: sec.latest}, true
}

// Confirm records that the given revisions are in use by the live router
// configuration. Older revisions of the same secrets are discarded.
func (s *Store) Confirm(refs ...secrets.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		sec, ok := s.lookup(ref)
		if !ok {
			continue
		}
		kept := sec.revisions[:0]
		for _, r := range sec.revisions {
			if r.number >= ref.Revision {
				kept = append(kept, r)
			}
		}
		if pruned := len(sec.revisions) - len(kept); pruned > 0 && s.logger != nil {
			s.logger.Debugf("pruned %d revisions of %s", pruned, s.byID[ref.ID])
		}
		sec.revisions = kept
	}
}

// Remove drops every revision of kind.
func (s *Store) Remove(kind secrets.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[kind]
	if !ok {
		return
	}
	delete(s.byID, sec.id)
	delete(s.secrets, kind)
}

// Revisions returns the revision numbers held for kind, oldest first.
func (s *Store) Revisions(kind secrets.Kind) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[kind]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(sec.revisions))
	for _, r := range sec.revisions {
		out = append(out, r.number)
	}
	return out
}
