// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"context"
	"crypto"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/reconcile"
	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/core/secrets"
	"github.com/canonical/mysql-router-operator/internal/lifecycle"
	"github.com/canonical/mysql-router-operator/internal/mysqlshell"
	"github.com/canonical/mysql-router-operator/internal/pki"
	"github.com/canonical/mysql-router-operator/internal/relationdata"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
	"github.com/canonical/mysql-router-operator/internal/secretstore"
	"github.com/canonical/mysql-router-operator/internal/topology"
)

// engine holds the accumulated inputs and the reconciliation state of a
// single router unit. It is driven from one goroutine only.
type engine struct {
	config  Config
	tracker *topology.Tracker

	state     reconcile.State
	persisted PersistentState

	credentials       secrets.Credentials
	credentialsDigest string

	tls        *secrets.TLSInfo
	tlsVersion int
	tlsDigest  string

	clients   map[int]relationdata.DatabaseRequest
	cosAgents set.Ints
	logging   map[int]string
	tracing   TracingChange
	published map[relation.Key]relation.Bag

	// provisioned records, per client relation, the credentials and
	// grants last created on the backend.
	provisioned map[int]string

	retries int
	retryAt time.Time
}

func newEngine(config Config) *engine {
	return &engine{
		config:    config,
		tracker:   topology.NewTracker(),
		state:     reconcile.State{Phase: reconcile.Idle},
		clients:   make(map[int]relationdata.DatabaseRequest),
		cosAgents: set.NewInts(),
		logging:   make(map[int]string),
		published: make(map[relation.Key]relation.Bag),

		provisioned: make(map[int]string),
	}
}

// start restores the persisted state. A persisted config hash is only
// trusted when the router is healthy; otherwise the first render applies.
func (e *engine) start(ctx context.Context) {
	st, err := e.config.StateFile.Read()
	if errors.Is(err, ErrNoStateFile) {
		e.config.Logger.Debugf("no reconciler state, starting fresh")
		return
	} else if err != nil {
		e.config.Logger.Warningf("discarding reconciler state: %v", err)
		return
	}

	e.persisted = st
	e.tracker.Restore(st.TopologyGeneration)
	e.credentials.RotationVersion = st.CredentialsVersion
	e.credentialsDigest = st.CredentialsDigest
	e.tlsVersion = st.TLSVersion
	e.tlsDigest = st.TLSDigest
	e.state.LastError = st.LastError

	if st.LastAppliedHash == "" {
		return
	}
	if health := e.config.Controller.Health(ctx); health == lifecycle.Healthy {
		e.state.LastAppliedHash = st.LastAppliedHash
		e.config.Logger.Infof("resuming with applied config %.12s", st.LastAppliedHash)
	} else {
		e.config.Logger.Infof("router %s at start-up, discarding applied config %.12s", health, st.LastAppliedHash)
	}
}

// fold applies queued events to the accumulated inputs in order. Only an
// undefined transition is returned as an error.
func (e *engine) fold(ctx context.Context, raws []relation.RawEvent) error {
	for _, raw := range raws {
		if err := e.transition(e.handle(ctx, raw)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (e *engine) handle(ctx context.Context, raw relation.RawEvent) reconcile.Trigger {
	ev, err := relationdata.Parse(raw)
	if err != nil {
		e.recordError(err)
		return reconcile.EventIgnored
	}
	e.config.Logger.Debugf("handling %s", ev)

	var changed bool
	switch ev.Name() {
	case relation.BackendDatabase:
		changed, err = e.handleBackend(ev)
	case relation.Certificates:
		changed, err = e.handleCertificates(ev)
	case relation.Database:
		err = e.handleDatabase(ctx, ev)
	case relation.Tracing:
		err = e.handleTracing(ev)
	case relation.Logging:
		changed, err = e.handleLogging(ev)
	case relation.COSAgent:
		changed, err = e.handleCOSAgent(ev)
	}
	if err != nil {
		e.recordError(errors.Annotatef(err, "handling %s", ev))
	}
	if !changed {
		return reconcile.EventIgnored
	}
	e.retries = 0
	return reconcile.InputsChanged
}

func (e *engine) handleBackend(ev relation.Event) (bool, error) {
	before := e.tracker.Current()
	after, err := e.tracker.Update(ev)
	if err != nil {
		return false, errors.Trace(err)
	}
	changed := !after.SameMembers(before)

	if ev.Kind().Removing() {
		if e.tracker.Len() == 0 && !e.credentials.Ref.IsZero() {
			e.credentials = secrets.Credentials{RotationVersion: e.credentials.RotationVersion}
			changed = true
		}
		return changed, nil
	}

	data, err := relationdata.DecodeBackend(ev)
	if err != nil {
		return changed, errors.Trace(err)
	}
	ref, err := e.config.Store.Put(secrets.BackendCredentials, secrets.Value{
		secrets.UsernameKey: data.Username,
		secrets.PasswordKey: data.Password,
	})
	if err != nil {
		return changed, errors.Trace(err)
	}
	if digest, _ := e.config.Store.Digest(ref); digest != e.credentialsDigest {
		e.credentials.RotationVersion++
		e.credentialsDigest = digest
	}
	if ref != e.credentials.Ref {
		e.credentials.Ref = ref
		e.credentials.Username = data.Username
		changed = true
	}
	return changed, nil
}

func (e *engine) handleCertificates(ev relation.Event) (bool, error) {
	switch ev.Kind() {
	case relation.Joined:
		return false, errors.Trace(e.requestCertificate(ev.Key()))
	case relation.Changed:
		return e.installCertificate(ev)
	case relation.Broken:
		delete(e.published, ev.Key())
		if e.tls == nil {
			return false, nil
		}
		e.config.Logger.Infof("certificates relation removed, serving without TLS")
		e.tls = nil
		return true, nil
	}
	return false, nil
}

// unitKey returns the private key certificates are requested for,
// generating it on first use.
func (e *engine) unitKey() (string, crypto.Signer, error) {
	if ref, ok := e.config.Store.Latest(secrets.TLSKey); ok {
		value, err := e.config.Store.Get(ref)
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		keyPEM := value[secrets.PrivateKeyKey]
		signer, err := pki.SignerFromPem(keyPEM)
		return keyPEM, signer, errors.Trace(err)
	}
	signer, err := e.config.KeyProfile()
	if err != nil {
		return "", nil, errors.Annotate(err, "generating unit key")
	}
	keyPEM, err := pki.SignerToPemString(signer)
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	if _, err := e.config.Store.Put(secrets.TLSKey, secrets.Value{secrets.PrivateKeyKey: keyPEM}); err != nil {
		return "", nil, errors.Trace(err)
	}
	return keyPEM, signer, nil
}

func (e *engine) requestCertificate(key relation.Key) error {
	if _, ok := e.published[key]; ok {
		return nil
	}
	_, signer, err := e.unitKey()
	if err != nil {
		return errors.Trace(err)
	}
	csr, err := pki.NewCSR(pki.CSRParams{
		CommonName: strings.ReplaceAll(e.config.UnitName, "/", "-"),
		SANs:       e.config.SANs,
	}, signer)
	if err != nil {
		return errors.Trace(err)
	}
	bag, err := relationdata.CertificateRequest{
		UnitName: e.config.UnitName,
		CSR:      csr,
		SANs:     e.config.SANs,
	}.Encode()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.publish(key, bag))
}

func (e *engine) installCertificate(ev relation.Event) (bool, error) {
	data, err := relationdata.DecodeCertificates(ev)
	if err != nil {
		return false, errors.Trace(err)
	}
	keyPEM, signer, err := e.unitKey()
	if err != nil {
		return false, errors.Trace(err)
	}
	matches, err := pki.MatchesKey(data.Certificate, signer)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !matches {
		return false, errors.NotValidf("certificate not issued for the unit key")
	}
	expiry, err := pki.Expiry(data.Certificate)
	if err != nil {
		return false, errors.Trace(err)
	}
	ref, err := e.config.Store.Put(secrets.TLS, secrets.TLSMaterial{
		Certificate: data.Certificate,
		PrivateKey:  keyPEM,
		CAChain:     data.CAChain(),
		Expiry:      expiry,
	}.Value())
	if err != nil {
		return false, errors.Trace(err)
	}
	if digest, _ := e.config.Store.Digest(ref); digest != e.tlsDigest {
		e.tlsVersion++
		e.tlsDigest = digest
	}
	if e.tls != nil && e.tls.Ref == ref {
		return false, nil
	}
	e.tls = &secrets.TLSInfo{Ref: ref, Version: e.tlsVersion, Expiry: expiry}
	now := e.config.Clock.Now()
	if e.tls.Expired(now) {
		e.config.Logger.Warningf("received certificate expired %s", humanize.RelTime(expiry, now, "ago", "from now"))
	} else {
		e.config.Logger.Infof("received certificate version %d, expires %s", e.tlsVersion, humanize.RelTime(expiry, now, "ago", "from now"))
	}
	return true, nil
}

func (e *engine) handleDatabase(ctx context.Context, ev relation.Event) error {
	id := ev.RelationID()
	switch ev.Kind() {
	case relation.Joined, relation.Changed:
		req, err := relationdata.DecodeDatabaseRequest(ev)
		if err != nil {
			return errors.Trace(err)
		}
		e.clients[id] = req
	case relation.Broken:
		kind := secrets.ClientCredentials(id)
		_, issued := e.config.Store.Latest(kind)
		delete(e.clients, id)
		delete(e.provisioned, id)
		e.config.Store.Remove(kind)
		clearErr := e.clear(ev.Key())
		if issued {
			if err := e.deleteClientUser(ctx, kind); err != nil {
				e.recordError(err)
			}
		}
		return errors.Trace(clearErr)
	}
	return nil
}

func (e *engine) deleteClientUser(ctx context.Context, kind secrets.Kind) error {
	username := secretstore.ClientUsername(kind)
	conn, err := e.backendConnection()
	if err != nil {
		e.config.Logger.Warningf("cannot drop user %q: %v", username, err)
		return nil
	}
	return errors.Trace(e.config.Provisioner.DeleteUser(ctx, conn, username))
}

// backendConnection returns the primary endpoint and the router's own
// backend account.
func (e *engine) backendConnection() (mysqlshell.Connection, error) {
	primary := e.tracker.Current().Primary
	if primary == nil {
		return mysqlshell.Connection{}, errors.Annotate(coreerrors.IncompleteInputs, "no primary endpoint")
	}
	if e.credentials.Ref.IsZero() {
		return mysqlshell.Connection{}, errors.Annotate(coreerrors.IncompleteInputs, "no backend credentials")
	}
	value, err := e.config.Store.Get(e.credentials.Ref)
	if err != nil {
		return mysqlshell.Connection{}, errors.Trace(err)
	}
	return mysqlshell.Connection{
		Endpoint: *primary,
		Username: value[secrets.UsernameKey],
		Password: value[secrets.PasswordKey],
	}, nil
}

func (e *engine) handleTracing(ev relation.Event) error {
	var change TracingChange
	switch ev.Kind() {
	case relation.Changed:
		data, err := relationdata.DecodeTracing(ev)
		if err != nil {
			return errors.Trace(err)
		}
		change = TracingChange{Endpoint: data.Endpoint, Protocol: data.Protocol}
	case relation.Broken:
	default:
		return nil
	}
	if change == e.tracing {
		return nil
	}
	e.tracing = change
	e.config.Hub.Publish(TracingTopic, change)
	return nil
}

// handleLogging tracks the log push endpoints. The router's console log
// is forwarded to each of them.
func (e *engine) handleLogging(ev relation.Event) (bool, error) {
	id := ev.RelationID()
	before, had := e.logging[id]
	switch ev.Kind() {
	case relation.Changed:
		data, err := relationdata.DecodeLogging(ev)
		if err != nil {
			return false, errors.Trace(err)
		}
		e.logging[id] = data.Endpoint
		return !had || before != data.Endpoint, nil
	case relation.Broken:
		delete(e.logging, id)
		return had, nil
	}
	return false, nil
}

func (e *engine) logTargets() []routerconfig.LogTarget {
	if len(e.logging) == 0 {
		return nil
	}
	targets := make([]routerconfig.LogTarget, 0, len(e.logging))
	for id, endpoint := range e.logging {
		targets = append(targets, routerconfig.LogTarget{
			Name:     fmt.Sprintf("%s-%d", relation.Logging, id),
			Location: endpoint,
		})
	}
	return targets
}

// handleCOSAgent offers metrics, log slots and tracing to the COS agent.
// The exporter runs while at least one agent is related.
func (e *engine) handleCOSAgent(ev relation.Event) (bool, error) {
	id := ev.RelationID()
	monitored := !e.cosAgents.IsEmpty()
	if ev.Kind() == relation.Broken {
		e.cosAgents.Remove(id)
		err := e.clear(ev.Key())
		return monitored && e.cosAgents.IsEmpty(), errors.Trace(err)
	}
	if ev.Kind() == relation.Departed || e.cosAgents.Contains(id) {
		return false, nil
	}
	bag, err := relationdata.COSAgentProvides{
		MetricsEndpoints: []relationdata.MetricsEndpoint{{Path: MetricsPath, Port: e.config.MetricsPort}},
		LogSlots:         e.config.LogSlots,
		TracingProtocols: []string{relationdata.DefaultTracingProtocol},
	}.Encode()
	if err != nil {
		return false, errors.Trace(err)
	}
	if err := e.publish(ev.Key(), bag); err != nil {
		return false, errors.Trace(err)
	}
	e.cosAgents.Add(id)
	return !monitored, nil
}

// monitoring returns the REST API credentials of the exporter, creating
// them on first use, or nil when no COS agent is related.
func (e *engine) monitoring() (*secrets.Credentials, error) {
	if e.cosAgents.IsEmpty() {
		return nil, nil
	}
	ref, ok := e.config.Store.Latest(secrets.MonitoringCredentials)
	if !ok {
		var err error
		if ref, err = e.config.Store.Rotate(secrets.MonitoringCredentials); err != nil {
			return nil, errors.Annotate(err, "creating monitoring credentials")
		}
	}
	value, err := e.config.Store.Get(ref)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &secrets.Credentials{Username: value[secrets.UsernameKey], Ref: ref}, nil
}

func (e *engine) publish(key relation.Key, bag relation.Bag) error {
	if err := e.config.Publisher.Publish(key, bag); err != nil {
		return errors.Annotatef(err, "publishing %s", key)
	}
	e.published[key] = bag
	return nil
}

func (e *engine) clear(key relation.Key) error {
	delete(e.published, key)
	return errors.Annotatef(e.config.Publisher.Clear(key), "clearing %s", key)
}

// transition moves the state machine and announces the result.
func (e *engine) transition(trigger reconcile.Trigger) error {
	from := e.state.Phase
	to, err := reconcile.Next(from, trigger)
	if err != nil {
		return errors.Trace(err)
	}
	e.state.Phase = to
	if to != reconcile.Degraded {
		e.retryAt = time.Time{}
	}
	if from != to {
		e.config.Logger.Debugf("%s -> %s on %s", from, to, trigger)
	}
	change := StateChange{
		From:       from,
		To:         to,
		Trigger:    trigger,
		Hash:       e.state.LastAppliedHash,
		LastError:  e.state.LastError,
		Generation: e.tracker.Current().Generation,
	}
	if e.tls != nil {
		change.TLSExpiry = e.tls.Expiry
	}
	e.config.Hub.Publish(StateTopic, change)
	return nil
}

func (e *engine) recordError(err error) {
	e.state.LastError = err.Error()
	e.config.Logger.Warningf("%v", err)
}

// step resolves a pending phase, then publishes client data when the
// router is serving.
func (e *engine) step(ctx context.Context) error {
	if e.state.Phase == reconcile.Pending {
		if err := e.reconcile(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	e.publishClients(ctx)
	e.persist()
	return nil
}

func (e *engine) reconcile(ctx context.Context) error {
	generation := e.tracker.Current().Generation
	ctx, span := e.config.Tracer.Start(ctx, "reconcile", trace.WithAttributes(
		attribute.String("unit", e.config.UnitName),
		attribute.Int64("topology.generation", int64(generation)),
	))
	defer span.End()

	cfg, err := e.render()
	if err != nil {
		e.recordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.transition(reconcile.RenderFailed)
	}
	span.SetAttributes(attribute.String("config.hash", cfg.Hash))
	if cfg.Hash == e.state.LastAppliedHash {
		// The router already serves this config, possibly from before an
		// agent restart.
		if e.config.Controller.Applied().IsZero() {
			e.config.Controller.Adopt(cfg)
		}
		e.state.LastError = ""
		return e.transition(reconcile.RenderUnchanged)
	}

	if err := e.transition(reconcile.RenderChanged); err != nil {
		return errors.Trace(err)
	}
	if err := e.config.Controller.Apply(ctx, cfg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recordError(err)
		if lastGood := e.config.Controller.Applied(); !lastGood.IsZero() {
			if rerr := e.config.Controller.Restore(ctx, lastGood); rerr != nil {
				e.config.Logger.Errorf("cannot restore config %.12s: %v", lastGood.Hash, rerr)
				e.state.LastError = fmt.Sprintf("%s; %v", e.state.LastError, rerr)
			}
		}
		if err := e.transition(reconcile.ApplyFailed); err != nil {
			return errors.Trace(err)
		}
		e.scheduleRetry()
		return nil
	}

	e.state.LastAppliedHash = cfg.Hash
	e.state.LastError = ""
	e.retries = 0
	e.config.Store.Confirm(cfg.Refs()...)
	return e.transition(reconcile.ApplySucceeded)
}

func (e *engine) render() (routerconfig.RouterConfig, error) {
	now := e.config.Clock.Now()
	if e.tls != nil && e.tls.Expired(now) {
		return routerconfig.RouterConfig{}, errors.Annotatef(coreerrors.TLSExpired,
			"certificate expired %s", humanize.RelTime(e.tls.Expiry, now, "ago", "from now"))
	}
	monitoring, err := e.monitoring()
	if err != nil {
		return routerconfig.RouterConfig{}, errors.Trace(err)
	}
	return routerconfig.Render(routerconfig.Inputs{
		UnitName:     e.config.UnitName,
		Topology:     e.tracker.Current(),
		Credentials:  e.credentials,
		TLS:          e.tls,
		Options:      e.config.Options,
		Paths:        e.config.Paths,
		Secrets:      e.config.Store,
		Monitoring:   monitoring,
		ExporterPort: e.config.MetricsPort,
		LogTargets:   e.logTargets(),
	})
}

func (e *engine) scheduleRetry() {
	if e.retries >= e.config.MaxRetries {
		e.config.Logger.Warningf("apply failed %d times, waiting for new inputs", e.retries+1)
		e.retryAt = time.Time{}
		return
	}
	delay := e.config.RetryDelay
	for i := 0; i < e.retries && delay < e.config.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > e.config.MaxRetryDelay {
		delay = e.config.MaxRetryDelay
	}
	now := e.config.Clock.Now()
	e.retryAt = now.Add(delay)
	e.config.Logger.Infof("retrying apply %s", humanize.RelTime(now, e.retryAt, "ago", "from now"))
}

// retryDue fires the retry timer.
func (e *engine) retryDue() error {
	if e.state.Phase != reconcile.Degraded || e.retryAt.IsZero() {
		return nil
	}
	e.retries++
	e.retryAt = time.Time{}
	return errors.Trace(e.transition(reconcile.RetryDue))
}

// expiryDue fires the certificate expiry timer.
func (e *engine) expiryDue() error {
	if e.tls == nil || !e.tls.Expired(e.config.Clock.Now()) {
		return nil
	}
	e.config.Logger.Warningf("certificate version %d expired", e.tls.Version)
	return errors.Trace(e.transition(reconcile.ExpiryDue))
}

// nextExpiry returns when the certificate in use expires, zero if there is
// nothing left to wait for.
func (e *engine) nextExpiry() time.Time {
	if e.tls == nil || e.tls.Expired(e.config.Clock.Now()) {
		return time.Time{}
	}
	return e.tls.Expiry
}

// publishClients provisions the account of, then hands credentials and
// endpoints to, every client relation whose data is not yet current. It
// only does so while the router is idle and healthy, so clients are never
// pointed at a router that cannot serve.
func (e *engine) publishClients(ctx context.Context) {
	if e.state.Phase != reconcile.Idle || e.state.LastAppliedHash == "" || len(e.clients) == 0 {
		return
	}
	ids := make([]int, 0, len(e.clients))
	for id := range e.clients {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var stale []int
	for _, id := range ids {
		ref, ok := e.config.Store.Latest(secrets.ClientCredentials(id))
		if !ok {
			stale = append(stale, id)
			continue
		}
		bag, err := e.clientProvides(id, ref)
		if err != nil || !bag.Equal(e.published[relation.Key{Name: relation.Database, ID: id}]) ||
			e.provisioned[id] != e.grants(id, ref) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}
	if health := e.config.Controller.Health(ctx); health != lifecycle.Healthy {
		e.config.Logger.Debugf("router %s, deferring client data for %d relations", health, len(stale))
		return
	}

	for _, id := range stale {
		kind := secrets.ClientCredentials(id)
		ref, ok := e.config.Store.Latest(kind)
		if !ok {
			var err error
			if ref, err = e.config.Store.Rotate(kind); err != nil {
				e.recordError(errors.Annotatef(err, "creating credentials for %s:%d", relation.Database, id))
				continue
			}
		}
		if err := e.provision(ctx, id, ref); err != nil {
			e.recordError(errors.Annotatef(err, "provisioning %s:%d", relation.Database, id))
			continue
		}
		bag, err := e.clientProvides(id, ref)
		if err == nil {
			err = e.publish(relation.Key{Name: relation.Database, ID: id}, bag)
		}
		if err != nil {
			e.recordError(err)
		}
	}
}

// grants identifies what provisioning a client relation with ref creates.
func (e *engine) grants(id int, ref secrets.Ref) string {
	req := e.clients[id]
	return fmt.Sprintf("%s|%s|%s", ref, req.Database, strings.Join(req.ExtraUserRoles, ","))
}

func (e *engine) provision(ctx context.Context, id int, ref secrets.Ref) error {
	grants := e.grants(id, ref)
	if e.provisioned[id] == grants {
		return nil
	}
	conn, err := e.backendConnection()
	if err != nil {
		return errors.Trace(err)
	}
	value, err := e.config.Store.Get(ref)
	if err != nil {
		return errors.Trace(err)
	}
	req := e.clients[id]
	if err := e.config.Provisioner.CreateClientUser(ctx, conn, mysqlshell.ClientUser{
		Username: value[secrets.UsernameKey],
		Password: value[secrets.PasswordKey],
		Database: req.Database,
		Roles:    req.ExtraUserRoles,
	}); err != nil {
		return errors.Trace(err)
	}
	e.provisioned[id] = grants
	return nil
}

func (e *engine) clientProvides(id int, ref secrets.Ref) (relation.Bag, error) {
	kind := secrets.ClientCredentials(id)
	opts := e.config.Options
	return relationdata.DatabaseProvides{
		Database:          e.clients[id].Database,
		Endpoints:         []string{net.JoinHostPort(e.config.Address, strconv.Itoa(opts.RWPort))},
		ReadOnlyEndpoints: []string{net.JoinHostPort(e.config.Address, strconv.Itoa(opts.ROPort))},
		Username:          secretstore.ClientUsername(kind),
		SecretUser:        ref,
	}.Encode()
}

// persist writes the state file when anything worth keeping changed.
func (e *engine) persist() {
	st := PersistentState{
		State:              e.state,
		TopologyGeneration: e.tracker.Current().Generation,
		CredentialsVersion: e.credentials.RotationVersion,
		CredentialsDigest:  e.credentialsDigest,
		TLSVersion:         e.tlsVersion,
		TLSDigest:          e.tlsDigest,
	}
	if st == e.persisted {
		return
	}
	if err := e.config.StateFile.Write(st); err != nil {
		e.config.Logger.Warningf("cannot persist reconciler state: %v", err)
		return
	}
	e.persisted = st
}
