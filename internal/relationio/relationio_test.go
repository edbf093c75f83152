// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relationio_test

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/internal/relationio"
)

type outboxSuite struct {
	testing.IsolationSuite

	dir    string
	outbox *relationio.Outbox
}

var _ = gc.Suite(&outboxSuite{})

func (s *outboxSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.dir = c.MkDir()
	s.outbox = relationio.NewOutbox(s.dir, loggo.GetLogger("mysqlrouter.relationio.test"))
}

func (s *outboxSuite) TestPublishReplacesBag(c *gc.C) {
	key := relation.Key{Name: relation.Database, ID: 4}
	c.Assert(s.outbox.Publish(key, relation.Bag{"username": "relation-4", "endpoints": "10.1.0.5:6446"}), jc.ErrorIsNil)
	c.Assert(s.outbox.Publish(key, relation.Bag{"username": "relation-4"}), jc.ErrorIsNil)

	bag, err := s.outbox.Read(key)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(bag, jc.DeepEquals, relation.Bag{"username": "relation-4"})

	info, err := os.Stat(filepath.Join(s.dir, "database-4.yaml"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(info.Mode().Perm(), gc.Equals, os.FileMode(0600))
}

func (s *outboxSuite) TestClear(c *gc.C) {
	key := relation.Key{Name: relation.COSAgent, ID: 2}
	c.Assert(s.outbox.Publish(key, relation.Bag{"config": "{}"}), jc.ErrorIsNil)
	c.Assert(s.outbox.Clear(key), jc.ErrorIsNil)
	_, err := s.outbox.Read(key)
	c.Assert(err, jc.ErrorIs, errors.NotFound)

	// Clearing twice is fine.
	c.Assert(s.outbox.Clear(key), jc.ErrorIsNil)
}

type inboxSuite struct {
	testing.IsolationSuite

	dir string
}

var _ = gc.Suite(&inboxSuite{})

func (s *inboxSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.dir = c.MkDir()
}

func (s *inboxSuite) TestFileNameRoundTrip(c *gc.C) {
	ev := relation.RawEvent{RelationID: 12, RelationName: "backend-database", Kind: "changed"}
	name := relationio.InboxFileName(7, ev)
	c.Assert(name, gc.Equals, "00000000000000000007-backend-database-12-changed.yaml")

	f, err := relationio.ParseInboxFileName(name)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(f, jc.DeepEquals, relationio.InboxFile{
		Seq:          7,
		RelationName: "backend-database",
		RelationID:   12,
		Kind:         "changed",
	})
}

func (s *inboxSuite) TestParseInboxFileNameInvalid(c *gc.C) {
	for _, name := range []string{
		"backend-database-12-changed.yaml",
		"1-backend-database-changed.yaml",
		"1-backend-database-12-changed.yaml.rejected",
		"1-Backend-12-changed.yaml",
	} {
		_, err := relationio.ParseInboxFileName(name)
		c.Check(err, jc.ErrorIs, errors.NotValid, gc.Commentf(name))
	}
}

func (s *inboxSuite) TestWriteReadEvent(c *gc.C) {
	ev := relation.RawEvent{
		RelationID:   3,
		RelationName: "database",
		Kind:         "joined",
		RemoteUnit:   "wordpress/0",
		Data:         map[string]string{"database": "wordpress"},
	}
	path, err := relationio.WriteEvent(s.dir, 1, ev)
	c.Assert(err, jc.ErrorIsNil)

	read, err := relationio.ReadEvent(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(read, jc.DeepEquals, ev)
}

func (s *inboxSuite) TestReadEventFillsIdentityFromName(c *gc.C) {
	path := filepath.Join(s.dir, "00000000000000000002-certificates-5-broken.yaml")
	c.Assert(os.WriteFile(path, []byte("{}\n"), 0600), jc.ErrorIsNil)

	ev, err := relationio.ReadEvent(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ev, jc.DeepEquals, relation.RawEvent{RelationID: 5, RelationName: "certificates", Kind: "broken"})
}

func (s *inboxSuite) TestReadEventMismatch(c *gc.C) {
	path := filepath.Join(s.dir, "00000000000000000002-certificates-5-broken.yaml")
	c.Assert(os.WriteFile(path, []byte("relation-id: 6\n"), 0600), jc.ErrorIsNil)

	_, err := relationio.ReadEvent(path)
	c.Assert(err, jc.ErrorIs, coreerrors.MalformedRelationData)
}

func (s *inboxSuite) TestReadEventUndecodable(c *gc.C) {
	path := filepath.Join(s.dir, "00000000000000000002-certificates-5-broken.yaml")
	c.Assert(os.WriteFile(path, []byte("data: [not, a, map]\n"), 0600), jc.ErrorIsNil)

	_, err := relationio.ReadEvent(path)
	c.Assert(err, jc.ErrorIs, coreerrors.MalformedRelationData)
}

func (s *inboxSuite) TestPendingEventsOrdered(c *gc.C) {
	ev := relation.RawEvent{RelationID: 1, RelationName: "database", Kind: "changed"}
	for _, seq := range []uint64{10, 2, 33} {
		_, err := relationio.WriteEvent(s.dir, seq, ev)
		c.Assert(err, jc.ErrorIsNil)
	}
	c.Assert(os.WriteFile(filepath.Join(s.dir, "notes.txt"), nil, 0600), jc.ErrorIsNil)
	c.Assert(os.WriteFile(filepath.Join(s.dir, "00000000000000000001-database-1-changed.yaml.rejected"), nil, 0600), jc.ErrorIsNil)

	paths, err := relationio.PendingEvents(s.dir)
	c.Assert(err, jc.ErrorIsNil)
	var seqs []uint64
	for _, path := range paths {
		f, err := relationio.ParseInboxFileName(filepath.Base(path))
		c.Assert(err, jc.ErrorIsNil)
		seqs = append(seqs, f.Seq)
	}
	c.Assert(seqs, jc.DeepEquals, []uint64{2, 10, 33})
}
