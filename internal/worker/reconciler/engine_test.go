// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler_test

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/reconcile"
	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/core/secrets"
	"github.com/canonical/mysql-router-operator/internal/lifecycle"
	"github.com/canonical/mysql-router-operator/internal/pki"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
	"github.com/canonical/mysql-router-operator/internal/secretstore"
	"github.com/canonical/mysql-router-operator/internal/worker/reconciler"
)

// baseSuite holds the fixtures shared by the engine and worker tests.
type baseSuite struct {
	testing.IsolationSuite

	clock       *testclock.Clock
	store       *secretstore.Store
	controller  *fakeController
	provisioner *fakeProvisioner
	publisher   *fakePublisher
	hub         *pubsub.SimpleHub
	statePath   string
	ca          *pki.CA
	caPEM       string
}

type engineSuite struct {
	baseSuite
}

var _ = gc.Suite(&engineSuite{})

func (s *baseSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	s.store = secretstore.New(secretstore.Config{
		Generators: secretstore.DefaultGenerators("mysql-router/0"),
	})
	s.controller = newFakeController()
	s.provisioner = &fakeProvisioner{}
	s.publisher = newFakePublisher()
	s.hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{})
	s.statePath = filepath.Join(c.MkDir(), "reconciler.yaml")

	signer, err := pki.ECDSAP256()
	c.Assert(err, jc.ErrorIsNil)
	s.ca, err = pki.NewCA("test-ca", signer, s.clock.Now(), 30*24*time.Hour)
	c.Assert(err, jc.ErrorIsNil)
	s.caPEM = pki.CertificateToPemString(s.ca.Certificate)
}

func (s *baseSuite) config() reconciler.Config {
	return reconciler.Config{
		UnitName:      "mysql-router/0",
		Address:       "10.1.0.5",
		SANs:          []string{"10.1.0.5", "mysql-router-0.local"},
		Options:       routerconfig.DefaultOptions(),
		Paths:         routerconfig.DefaultPaths(),
		Queue:         reconciler.NewQueue(),
		Store:         s.store,
		Controller:    s.controller,
		Provisioner:   s.provisioner,
		Publisher:     s.publisher,
		StateFile:     reconciler.NewStateFile(s.statePath),
		Hub:           s.hub,
		Clock:         s.clock,
		Logger:        loggo.GetLogger("mysqlrouter.reconciler.test"),
		KeyProfile:    pki.ECDSAP256,
		RetryDelay:    time.Second,
		MaxRetryDelay: 4 * time.Second,
		MaxRetries:    3,
	}
}

func (s *baseSuite) newEngine(c *gc.C) *reconciler.Engine {
	e, err := reconciler.NewEngine(s.config())
	c.Assert(err, jc.ErrorIsNil)
	e.Start(context.Background())
	return e
}

func (s *baseSuite) deliver(c *gc.C, e *reconciler.Engine, events ...relation.RawEvent) reconcile.State {
	c.Assert(e.Deliver(context.Background(), events...), jc.ErrorIsNil)
	return e.State()
}

func (s *baseSuite) watch(c *gc.C, topic string) <-chan interface{} {
	ch := make(chan interface{}, 100)
	unsubscribe := s.hub.Subscribe(topic, func(_ string, data interface{}) {
		ch <- data
	})
	s.AddCleanup(func(*gc.C) { unsubscribe() })
	return ch
}

func receive(c *gc.C, ch <-chan interface{}) interface{} {
	select {
	case data := <-ch:
		return data
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for hub publication")
	}
	return nil
}

func (s *baseSuite) sign(c *gc.C, relationID int, from time.Time, validity time.Duration) string {
	cert, err := s.ca.SignCSR(s.publisher.csr(c, relationID), from, validity)
	c.Assert(err, jc.ErrorIsNil)
	return cert
}

func backend(id int, kind, rw, ro string) relation.RawEvent {
	return backendWithPassword(id, kind, rw, ro, "backend-secret")
}

func backendWithPassword(id int, kind, rw, ro, password string) relation.RawEvent {
	return relation.RawEvent{
		RelationID:   id,
		RelationName: "backend-database",
		Kind:         kind,
		RemoteUnit:   "mysql/0",
		Data: map[string]string{
			"endpoints":           rw,
			"read-only-endpoints": ro,
			"username":            "router",
			"password":            password,
		},
	}
}

func removed(id int, name, kind string) relation.RawEvent {
	return relation.RawEvent{RelationID: id, RelationName: name, Kind: kind}
}

func certificates(id int, kind, cert, ca string) relation.RawEvent {
	raw := relation.RawEvent{RelationID: id, RelationName: "certificates", Kind: kind}
	if cert != "" {
		raw.Data = map[string]string{"certificate": cert, "ca": ca}
	}
	return raw
}

func database(id int, kind, name string) relation.RawEvent {
	return relation.RawEvent{
		RelationID:   id,
		RelationName: "database",
		Kind:         kind,
		RemoteUnit:   "wordpress/0",
		Data:         map[string]string{"database": name},
	}
}

func (s *engineSuite) TestBackendJoinedAppliesPrimary(c *gc.C) {
	changes := s.watch(c, reconciler.StateTopic)
	e := s.newEngine(c)

	st := s.deliver(c, e, backend(1, "joined", "10.0.0.1:6446", ""))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, gc.Equals, "")
	c.Assert(s.controller.applies(), gc.Equals, 1)

	applied := s.controller.Applied()
	c.Assert(st.LastAppliedHash, gc.Equals, applied.Hash)
	c.Assert(string(applied.Content), jc.Contains, "[routing:rw]")
	c.Assert(strings.Count(string(applied.Content), "destinations=10.0.0.1:6446"), gc.Equals, 2)

	var phases []reconcile.Phase
	for i := 0; i < 3; i++ {
		change := receive(c, changes).(reconciler.StateChange)
		phases = append(phases, change.To)
	}
	c.Assert(phases, jc.DeepEquals, []reconcile.Phase{reconcile.Pending, reconcile.Applying, reconcile.Idle})
}

func (s *engineSuite) TestSupersededTopologyNeverApplied(c *gc.C) {
	e := s.newEngine(c)

	st := s.deliver(c, e,
		backend(1, "joined", "10.0.0.1:3306", ""),
		backend(1, "changed", "10.0.0.2:3306", ""),
		backend(1, "changed", "10.0.0.3:3306", ""),
	)
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 1)
	content := string(s.controller.Applied().Content)
	c.Assert(content, jc.Contains, "destinations=10.0.0.3:3306")
	c.Assert(content, gc.Not(jc.Contains), "10.0.0.1")
	c.Assert(content, gc.Not(jc.Contains), "10.0.0.2")
}

func (s *engineSuite) TestNoPrimaryNeverApplies(c *gc.C) {
	e := s.newEngine(c)

	st := s.deliver(c, e,
		backend(1, "joined", "10.0.0.1:3306", ""),
		removed(1, "backend-database", "broken"),
	)
	c.Assert(st.Phase, gc.Equals, reconcile.Blocked)
	c.Assert(st.LastError, gc.Matches, ".*incomplete inputs")
	c.Assert(s.controller.applies(), gc.Equals, 0)

	// A backend coming back resolves the block.
	st = s.deliver(c, e, backend(2, "joined", "10.0.0.4:3306", ""))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 1)
}

func (s *engineSuite) TestLastBackendBrokenBlocksWithoutApplying(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	good := s.controller.Applied()

	st := s.deliver(c, e, removed(1, "backend-database", "broken"))
	c.Assert(st.Phase, gc.Equals, reconcile.Blocked)
	c.Assert(s.controller.applies(), gc.Equals, 1)
	c.Assert(s.controller.Live().Hash, gc.Equals, good.Hash)
	c.Assert(st.LastAppliedHash, gc.Equals, good.Hash)
}

func (s *engineSuite) TestReplayIsIdempotent(c *gc.C) {
	events := []relation.RawEvent{
		backend(1, "joined", "10.0.0.1:3306", ""),
		backend(1, "changed", "10.0.0.1:3306", "10.0.0.2:3306"),
		database(9, "joined", "wordpress"),
		{RelationID: 3, RelationName: "cos-agent", Kind: "joined"},
	}
	e := s.newEngine(c)
	first := s.deliver(c, e, events...)
	c.Assert(first.Phase, gc.Equals, reconcile.Idle)
	clientBag, ok := s.publisher.bag(relation.Key{Name: relation.Database, ID: 9})
	c.Assert(ok, jc.IsTrue)

	second := s.deliver(c, e, events...)
	c.Assert(second, jc.DeepEquals, first)
	c.Assert(s.controller.applies(), gc.Equals, 1)
	again, _ := s.publisher.bag(relation.Key{Name: relation.Database, ID: 9})
	c.Assert(again, jc.DeepEquals, clientBag)

	// Replaying one event at a time passes through an intermediate
	// topology but converges on the same config.
	for _, ev := range events {
		s.deliver(c, e, ev)
	}
	c.Assert(e.State(), jc.DeepEquals, first)
}

func (s *engineSuite) TestReplayWithRotatedPasswordIsIdempotent(c *gc.C) {
	events := []relation.RawEvent{
		backendWithPassword(1, "joined", "10.0.0.1:3306", "", "pw-a"),
		backendWithPassword(1, "changed", "10.0.0.1:3306", "", "pw-b"),
	}
	e := s.newEngine(c)
	first := s.deliver(c, e, events...)
	c.Assert(first.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 1)

	// The replay bumps the credentials version twice more but ends on
	// the same password.
	second := s.deliver(c, e, events...)
	c.Assert(second.LastAppliedHash, gc.Equals, first.LastAppliedHash)
	c.Assert(second.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 1)
}

func (s *engineSuite) TestReplayWithRenewedCertificateIsIdempotent(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), certificates(7, "joined", "", ""))
	events := []relation.RawEvent{
		certificates(7, "changed", s.sign(c, 7, s.clock.Now(), 24*time.Hour), s.caPEM),
		certificates(7, "changed", s.sign(c, 7, s.clock.Now(), 48*time.Hour), s.caPEM),
	}
	first := s.deliver(c, e, events...)
	c.Assert(first.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 2)

	second := s.deliver(c, e, events...)
	c.Assert(second.LastAppliedHash, gc.Equals, first.LastAppliedHash)
	c.Assert(second.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 2)
}

func (s *engineSuite) TestApplyFailureKeepsLastGood(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	good := s.controller.Applied()

	s.controller.failNextApplies(errors.Annotate(coreerrors.RouterApplyFailed, "waiting for health"))
	st := s.deliver(c, e, backend(1, "changed", "10.0.0.2:3306", ""))
	c.Assert(st.Phase, gc.Equals, reconcile.Degraded)
	c.Assert(st.LastError, gc.Matches, "waiting for health: router apply failed")
	c.Assert(st.LastAppliedHash, gc.Equals, good.Hash)
	c.Assert(s.controller.Live().Hash, gc.Equals, good.Hash)
	s.controller.CheckCall(c, 2, "Restore", good.Hash)
	c.Assert(e.RetryAt(), gc.Equals, s.clock.Now().Add(time.Second))
}

func (s *engineSuite) TestRetryAfterFailure(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	s.controller.failNextApplies(coreerrors.RouterApplyFailed)
	s.deliver(c, e, backend(1, "changed", "10.0.0.2:3306", ""))

	c.Assert(e.RetryDue(context.Background()), jc.ErrorIsNil)
	st := e.State()
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, gc.Equals, "")
	c.Assert(st.LastAppliedHash, gc.Equals, s.controller.Applied().Hash)
	c.Assert(string(s.controller.Applied().Content), jc.Contains, "destinations=10.0.0.2:3306")
	c.Assert(e.RetryAt().IsZero(), jc.IsTrue)
}

func (s *engineSuite) TestRetriesAreBounded(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	fail := coreerrors.RouterApplyFailed
	s.controller.failNextApplies(fail, fail, fail, fail)

	s.deliver(c, e, backend(1, "changed", "10.0.0.2:3306", ""))
	now := s.clock.Now()
	var delays []time.Duration
	for e.State().Phase == reconcile.Degraded && !e.RetryAt().IsZero() {
		delays = append(delays, e.RetryAt().Sub(now))
		c.Assert(e.RetryDue(context.Background()), jc.ErrorIsNil)
	}
	c.Assert(delays, jc.DeepEquals, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second})
	c.Assert(e.State().Phase, gc.Equals, reconcile.Degraded)
	c.Assert(s.controller.applies(), gc.Equals, 5)

	// A stray retry while not retrying changes nothing.
	c.Assert(e.RetryDue(context.Background()), jc.ErrorIsNil)
	c.Assert(s.controller.applies(), gc.Equals, 5)

	// New inputs start over.
	st := s.deliver(c, e, backend(1, "changed", "10.0.0.3:3306", ""))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
}

func (s *engineSuite) TestMalformedEventRecordsError(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))

	st := s.deliver(c, e, relation.RawEvent{
		RelationID:   1,
		RelationName: "backend-database",
		Kind:         "changed",
		Data:         map[string]string{"endpoints": "10.0.0.2", "username": "u", "password": "p"},
	})
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, gc.Matches, ".*malformed relation data")
	c.Assert(s.controller.applies(), gc.Equals, 1)

	st = s.deliver(c, e, relation.RawEvent{RelationName: "shared-db", Kind: "joined"})
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, gc.Equals, `unknown relation "shared-db": malformed relation data`)
}

func (s *engineSuite) TestCertificatesJoinedPublishesCSR(c *gc.C) {
	e := s.newEngine(c)
	st := s.deliver(c, e, certificates(7, "joined", "", ""))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, gc.Equals, "")

	csr, err := pki.ParseCSR(s.publisher.csr(c, 7))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(csr.Subject.CommonName, gc.Equals, "mysql-router-0")
	c.Assert(csr.DNSNames, jc.DeepEquals, []string{"mysql-router-0.local"})
	c.Assert(csr.IPAddresses, gc.HasLen, 1)
	c.Assert(csr.IPAddresses[0].String(), gc.Equals, "10.1.0.5")

	_, ok := s.store.Latest(secrets.TLSKey)
	c.Assert(ok, jc.IsTrue)
	before := s.publisher.csr(c, 7)
	s.deliver(c, e, certificates(7, "joined", "", ""))
	c.Assert(s.publisher.csr(c, 7), gc.Equals, before)
}

func (s *engineSuite) TestValidCertificateEnablesTLS(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), certificates(7, "joined", "", ""))
	c.Assert(s.controller.applies(), gc.Equals, 1)

	cert := s.sign(c, 7, s.clock.Now(), 24*time.Hour)
	st := s.deliver(c, e, certificates(7, "changed", cert, s.caPEM))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 2)
	content := string(s.controller.Applied().Content)
	c.Assert(content, jc.Contains, "client_ssl_cert=/etc/mysqlrouter/secrets/router.crt")
	c.Assert(content, jc.Contains, "client_ssl_mode=PREFERRED")

	expiry, err := pki.Expiry(cert)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(e.NextExpiry(), gc.Equals, expiry)

	ref, ok := s.store.Latest(secrets.TLS)
	c.Assert(ok, jc.IsTrue)
	value, err := s.store.Get(ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(value[secrets.CertificateKey], gc.Equals, cert)
	c.Assert(value[secrets.CAChainKey], gc.Equals, s.caPEM)
}

func (s *engineSuite) TestExpiredCertificateBlocks(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), certificates(7, "joined", "", ""))
	c.Assert(s.controller.applies(), gc.Equals, 1)

	cert := s.sign(c, 7, s.clock.Now().Add(-2*time.Hour), time.Hour)
	st := s.deliver(c, e, certificates(7, "changed", cert, s.caPEM))
	c.Assert(st.Phase, gc.Equals, reconcile.Blocked)
	c.Assert(st.LastError, gc.Matches, "certificate expired .*: tls material expired")
	c.Assert(s.controller.applies(), gc.Equals, 1)
	c.Assert(e.NextExpiry().IsZero(), jc.IsTrue)
}

func (s *engineSuite) TestExpiryDueBlocks(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), certificates(7, "joined", "", ""))
	cert := s.sign(c, 7, s.clock.Now(), time.Hour)
	st := s.deliver(c, e, certificates(7, "changed", cert, s.caPEM))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)

	s.clock.Advance(time.Hour)
	c.Assert(e.ExpiryDue(context.Background()), jc.ErrorIsNil)
	st = e.State()
	c.Assert(st.Phase, gc.Equals, reconcile.Blocked)
	c.Assert(st.LastError, jc.Contains, "tls material expired")

	// A renewed certificate unblocks.
	renewed := s.sign(c, 7, s.clock.Now(), 24*time.Hour)
	st = s.deliver(c, e, certificates(7, "changed", renewed, s.caPEM))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
}

func (s *engineSuite) TestRenewalKeepsOldRevisionUntilConfirmed(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), certificates(7, "joined", "", ""))
	s.deliver(c, e, certificates(7, "changed", s.sign(c, 7, s.clock.Now(), time.Hour), s.caPEM))
	c.Assert(s.store.Revisions(secrets.TLS), jc.DeepEquals, []int{1})

	s.controller.failNextApplies(coreerrors.RouterApplyFailed)
	st := s.deliver(c, e, certificates(7, "changed", s.sign(c, 7, s.clock.Now(), 48*time.Hour), s.caPEM))
	c.Assert(st.Phase, gc.Equals, reconcile.Degraded)
	c.Assert(s.store.Revisions(secrets.TLS), jc.DeepEquals, []int{1, 2})

	c.Assert(e.RetryDue(context.Background()), jc.ErrorIsNil)
	c.Assert(e.State().Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.store.Revisions(secrets.TLS), jc.DeepEquals, []int{2})
}

func (s *engineSuite) TestCertificateForAnotherKeyRejected(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), certificates(7, "joined", "", ""))

	other, err := pki.ECDSAP256()
	c.Assert(err, jc.ErrorIsNil)
	csr, err := pki.NewCSR(pki.CSRParams{CommonName: "intruder"}, other)
	c.Assert(err, jc.ErrorIsNil)
	cert, err := s.ca.SignCSR(csr, s.clock.Now(), time.Hour)
	c.Assert(err, jc.ErrorIsNil)

	st := s.deliver(c, e, certificates(7, "changed", cert, s.caPEM))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, gc.Matches, ".*certificate not issued for the unit key not valid")
	c.Assert(s.controller.applies(), gc.Equals, 1)
}

func (s *engineSuite) TestCertificatesBrokenServesWithoutTLS(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), certificates(7, "joined", "", ""))
	s.deliver(c, e, certificates(7, "changed", s.sign(c, 7, s.clock.Now(), time.Hour), s.caPEM))

	st := s.deliver(c, e, removed(7, "certificates", "broken"))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 3)
	c.Assert(string(s.controller.Applied().Content), jc.Contains, "client_ssl_mode=DISABLED")
	c.Assert(e.NextExpiry().IsZero(), jc.IsTrue)
}

func (s *engineSuite) TestDatabaseClientPublishedOnceServing(c *gc.C) {
	e := s.newEngine(c)
	key := relation.Key{Name: relation.Database, ID: 9}

	s.deliver(c, e, database(9, "joined", "wordpress"))
	_, ok := s.publisher.bag(key)
	c.Assert(ok, jc.IsFalse)

	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	bag, ok := s.publisher.bag(key)
	c.Assert(ok, jc.IsTrue)
	ref, ok := s.store.Latest(secrets.ClientCredentials(9))
	c.Assert(ok, jc.IsTrue)
	c.Assert(bag, jc.DeepEquals, relation.Bag{
		"database":            "wordpress",
		"endpoints":           "10.1.0.5:6446",
		"read-only-endpoints": "10.1.0.5:6447",
		"username":            "relation-9",
		"secret-user":         ref.String(),
	})
	value, err := s.store.Get(ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(value[secrets.UsernameKey], gc.Equals, "relation-9")
	c.Assert(value[secrets.PasswordKey], gc.Not(gc.Equals), "")

	st := s.deliver(c, e, removed(9, "database", "broken"))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	_, ok = s.publisher.bag(key)
	c.Assert(ok, jc.IsFalse)
	_, ok = s.store.Latest(secrets.ClientCredentials(9))
	c.Assert(ok, jc.IsFalse)
	s.provisioner.CheckCalls(c, []testing.StubCall{
		{FuncName: "CreateClientUser", Args: []interface{}{"10.0.0.1:3306", "relation-9", "wordpress"}},
		{FuncName: "DeleteUser", Args: []interface{}{"10.0.0.1:3306", "relation-9"}},
	})
}

func (s *engineSuite) TestDatabaseClientDeferredWhileUnhealthy(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	key := relation.Key{Name: relation.Database, ID: 10}

	s.controller.setHealth(lifecycle.Unhealthy)
	s.deliver(c, e, database(10, "joined", "shop"))
	_, ok := s.publisher.bag(key)
	c.Assert(ok, jc.IsFalse)

	s.controller.setHealth(lifecycle.Healthy)
	s.deliver(c, e, relation.RawEvent{
		RelationID:   4,
		RelationName: "logging",
		Kind:         "changed",
		Data:         map[string]string{"endpoint": "http://loki:3100"},
	})
	bag, ok := s.publisher.bag(key)
	c.Assert(ok, jc.IsTrue)
	c.Assert(bag["database"], gc.Equals, "shop")
}

func (s *engineSuite) TestDatabaseUserProvisionedOnce(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), database(9, "joined", "wordpress"))
	s.deliver(c, e, backend(1, "changed", "10.0.0.1:3306", "10.0.0.2:3306"))
	s.deliver(c, e, database(9, "changed", "wordpress"))
	s.provisioner.CheckCallNames(c, "CreateClientUser")
}

func (s *engineSuite) TestDatabaseProvisionFailureDefersPublish(c *gc.C) {
	e := s.newEngine(c)
	key := relation.Key{Name: relation.Database, ID: 9}
	s.provisioner.SetErrors(errors.New("access denied"))

	st := s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""), database(9, "joined", "wordpress"))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, gc.Equals, "provisioning database:9: access denied")
	_, ok := s.publisher.bag(key)
	c.Assert(ok, jc.IsFalse)

	// The next pass tries again with the same credentials.
	s.deliver(c, e, database(9, "changed", "wordpress"))
	_, ok = s.publisher.bag(key)
	c.Assert(ok, jc.IsTrue)
	s.provisioner.CheckCallNames(c, "CreateClientUser", "CreateClientUser")
}

func (s *engineSuite) TestDatabaseBrokenWithoutCredentialsDropsNothing(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, database(9, "joined", "wordpress"))
	s.deliver(c, e, removed(9, "database", "broken"))
	s.provisioner.CheckNoCalls(c)
}

func (s *engineSuite) TestCOSAgentJoinedPublishes(c *gc.C) {
	e := s.newEngine(c)
	key := relation.Key{Name: relation.COSAgent, ID: 3}
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))

	st := s.deliver(c, e, relation.RawEvent{RelationID: 3, RelationName: "cos-agent", Kind: "joined"})
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	bag, ok := s.publisher.bag(key)
	c.Assert(ok, jc.IsTrue)
	c.Assert(bag["config"], gc.Equals,
		`{"metrics_scrape_jobs":[{"path":"/metrics","port":9152}],"log_slots":[],"tracing_protocols":["otlp_grpc"]}`)

	s.deliver(c, e, removed(3, "cos-agent", "broken"))
	_, ok = s.publisher.bag(key)
	c.Assert(ok, jc.IsFalse)
	c.Assert(s.publisher.cleared, jc.DeepEquals, []relation.Key{key})
}

func (s *engineSuite) TestTracingPublishedOnHub(c *gc.C) {
	changes := s.watch(c, reconciler.TracingTopic)
	e := s.newEngine(c)
	tracing := relation.RawEvent{
		RelationID:   2,
		RelationName: "tracing",
		Kind:         "changed",
		Data:         map[string]string{"endpoint": "tempo:4317"},
	}

	st := s.deliver(c, e, relation.RawEvent{RelationID: 2, RelationName: "tracing", Kind: "joined"}, tracing, tracing)
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(receive(c, changes), jc.DeepEquals, reconciler.TracingChange{
		Endpoint: "tempo:4317",
		Protocol: "otlp_grpc",
	})

	s.deliver(c, e, removed(2, "tracing", "broken"))
	c.Assert(receive(c, changes), jc.DeepEquals, reconciler.TracingChange{})
}

func (s *engineSuite) TestRestartTrustsHashWhenHealthy(c *gc.C) {
	e := s.newEngine(c)
	st := s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", "10.0.0.2:3306"))
	hash := st.LastAppliedHash

	persisted, err := reconciler.NewStateFile(s.statePath).Read()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(persisted.Phase, gc.Equals, reconcile.Idle)
	c.Assert(persisted.LastAppliedHash, gc.Equals, hash)
	c.Assert(persisted.TopologyGeneration, gc.Equals, uint64(1))
	c.Assert(persisted.CredentialsVersion, gc.Equals, 1)

	// A restarted agent has a fresh store and controller.
	s.store = secretstore.New(secretstore.Config{})
	s.controller = newFakeController()
	restarted := s.newEngine(c)
	st = s.deliver(c, restarted, backend(1, "joined", "10.0.0.1:3306", "10.0.0.2:3306"))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastAppliedHash, gc.Equals, hash)
	c.Assert(s.controller.applies(), gc.Equals, 0)
	s.controller.CheckCall(c, 0, "Adopt", hash)
}

func (s *engineSuite) TestRestartDiscardsHashWhenUnhealthy(c *gc.C) {
	e := s.newEngine(c)
	st := s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	hash := st.LastAppliedHash

	s.store = secretstore.New(secretstore.Config{})
	s.controller = newFakeController()
	s.controller.setHealth(lifecycle.Unhealthy)
	restarted := s.newEngine(c)
	c.Assert(restarted.State().LastAppliedHash, gc.Equals, "")

	s.controller.setHealth(lifecycle.Healthy)
	st = s.deliver(c, restarted, backend(1, "joined", "10.0.0.1:3306", ""))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastAppliedHash, gc.Equals, hash)
	c.Assert(s.controller.applies(), gc.Equals, 1)
}

func (s *engineSuite) TestConfigValidation(c *gc.C) {
	config := s.config()
	config.Hub = nil
	_, err := reconciler.NewEngine(config)
	c.Assert(err, gc.ErrorMatches, "nil Hub not valid")

	config = s.config()
	config.Options.RWPort = 0
	_, err = reconciler.NewEngine(config)
	c.Assert(err, gc.ErrorMatches, "router options: .*")

	config = s.config()
	config.Provisioner = nil
	_, err = reconciler.NewEngine(config)
	c.Assert(err, gc.ErrorMatches, "nil Provisioner not valid")

	config = s.config()
	config.MaxRetries = -1
	_, err = reconciler.NewEngine(config)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func cosAgent(id int, kind string) relation.RawEvent {
	return relation.RawEvent{RelationID: id, RelationName: "cos-agent", Kind: kind, RemoteUnit: "grafana-agent/0"}
}

func (s *engineSuite) TestCOSAgentRunsExporter(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))
	c.Assert(s.controller.Applied().Exporter, gc.IsNil)

	st := s.deliver(c, e, cosAgent(3, "joined"))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 2)
	applied := s.controller.Applied()
	ref, ok := s.store.Latest(secrets.MonitoringCredentials)
	c.Assert(ok, jc.IsTrue)
	c.Assert(applied.Exporter, jc.DeepEquals, &routerconfig.Exporter{
		ListenPort:  9152,
		URL:         "http://127.0.0.1:8443",
		Credentials: ref,
	})
	c.Assert(string(applied.Content), jc.Contains, "[http_auth_realm:default_auth_realm]")
	value, err := s.store.Get(ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(value[secrets.UsernameKey], gc.Equals, "monitoring-mysql-router-0")

	// A second agent shares the exporter.
	s.deliver(c, e, cosAgent(4, "joined"))
	c.Assert(s.controller.applies(), gc.Equals, 2)
	s.deliver(c, e, removed(4, "cos-agent", "broken"))
	c.Assert(s.controller.applies(), gc.Equals, 2)

	st = s.deliver(c, e, removed(3, "cos-agent", "broken"))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 3)
	c.Assert(s.controller.Applied().Exporter, gc.IsNil)
	c.Assert(string(s.controller.Applied().Content), gc.Not(jc.Contains), "http_auth")
}

func (s *engineSuite) TestCOSAgentOffersLogSlots(c *gc.C) {
	config := s.config()
	config.LogSlots = []string{"charmed-mysql:logs"}
	e, err := reconciler.NewEngine(config)
	c.Assert(err, jc.ErrorIsNil)
	e.Start(context.Background())

	s.deliver(c, e, cosAgent(3, "joined"))
	bag, ok := s.publisher.bag(relation.Key{Name: relation.COSAgent, ID: 3})
	c.Assert(ok, jc.IsTrue)
	c.Assert(bag["config"], jc.Contains, `"log_slots":["charmed-mysql:logs"]`)
}

func logging(id int, endpoint string) relation.RawEvent {
	return relation.RawEvent{
		RelationID:   id,
		RelationName: "logging",
		Kind:         "changed",
		RemoteUnit:   "loki/0",
		Data:         map[string]string{"endpoint": endpoint},
	}
}

func (s *engineSuite) TestLoggingForwardsConsoleLog(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))

	st := s.deliver(c, e, logging(4, `{"url": "http://loki:3100/loki/api/v1/push"}`))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(s.controller.applies(), gc.Equals, 2)
	applied := s.controller.Applied()
	c.Assert(applied.LogTargets, jc.DeepEquals, []routerconfig.LogTarget{
		{Name: "logging-4", Location: "http://loki:3100/loki/api/v1/push"},
	})
	c.Assert(string(applied.Content), jc.Contains, "sinks=filelog,consolelog")

	// The same endpoint again changes nothing.
	s.deliver(c, e, logging(4, "http://loki:3100/loki/api/v1/push"))
	c.Assert(s.controller.applies(), gc.Equals, 2)

	s.deliver(c, e, removed(4, "logging", "broken"))
	c.Assert(s.controller.applies(), gc.Equals, 3)
	c.Assert(s.controller.Applied().LogTargets, gc.IsNil)
}

func (s *engineSuite) TestLoggingBadEndpointRecordsError(c *gc.C) {
	e := s.newEngine(c)
	s.deliver(c, e, backend(1, "joined", "10.0.0.1:3306", ""))

	st := s.deliver(c, e, logging(4, "loki:3100"))
	c.Assert(st.Phase, gc.Equals, reconcile.Idle)
	c.Assert(st.LastError, jc.Contains, `logging endpoint "loki:3100" not valid`)
	c.Assert(s.controller.applies(), gc.Equals, 1)
}
