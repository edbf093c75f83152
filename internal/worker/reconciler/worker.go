// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconciler runs the reconciliation loop of a router unit. Relation
// events are serialized through a Queue, folded into the accumulated inputs
// and rendered once per batch, so a superseded topology is never applied.
package reconciler

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/canonical/mysql-router-operator/core/secrets"
	"github.com/canonical/mysql-router-operator/internal/lifecycle"
	"github.com/canonical/mysql-router-operator/internal/mysqlshell"
	"github.com/canonical/mysql-router-operator/internal/pki"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
)

const (
	// DefaultRetryDelay is the delay before the first retry of a failed
	// apply. It doubles on every further retry.
	DefaultRetryDelay = 10 * time.Second

	// DefaultMaxRetryDelay caps the retry delay.
	DefaultMaxRetryDelay = 5 * time.Minute

	// DefaultMaxRetries bounds the retries of a failed apply. New inputs
	// reset the count.
	DefaultMaxRetries = 5

	// DefaultMetricsPort is where the router metrics exporter listens.
	DefaultMetricsPort = 9152

	// MetricsPath is advertised to the COS agent.
	MetricsPath = "/metrics"
)

// Logger represents the methods used by the worker to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Controller applies configurations to the router.
type Controller interface {
	Apply(ctx context.Context, cfg routerconfig.RouterConfig) error
	Restore(ctx context.Context, cfg routerconfig.RouterConfig) error
	Adopt(cfg routerconfig.RouterConfig)
	Applied() routerconfig.RouterConfig
	Health(ctx context.Context) lifecycle.Health
}

// SecretStore holds the unit's credentials and TLS material.
type SecretStore interface {
	routerconfig.SecretLookup
	Put(kind secrets.Kind, value secrets.Value) (secrets.Ref, error)
	Get(ref secrets.Ref) (secrets.Value, error)
	Rotate(kind secrets.Kind) (secrets.Ref, error)
	Latest(kind secrets.Kind) (secrets.Ref, bool)
	Confirm(refs ...secrets.Ref)
	Remove(kind secrets.Kind)
}

//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/provisioner_mock.go github.com/canonical/mysql-router-operator/internal/worker/reconciler Provisioner

// Provisioner creates and drops client accounts on the backend cluster.
type Provisioner interface {
	CreateClientUser(ctx context.Context, conn mysqlshell.Connection, user mysqlshell.ClientUser) error
	DeleteUser(ctx context.Context, conn mysqlshell.Connection, username string) error
}

// Tracer starts the span wrapping each reconcile pass.
type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// Config defines the operation of the Worker.
type Config struct {
	UnitName string

	// Address is advertised to client applications.
	Address string

	// SANs are requested on the unit certificate.
	SANs []string

	Options routerconfig.Options
	Paths   routerconfig.Paths

	Queue       *Queue
	Store       SecretStore
	Controller  Controller
	Provisioner Provisioner
	Publisher   Publisher
	StateFile   *StateFile
	Hub         *pubsub.SimpleHub
	Clock       clock.Clock
	Logger      Logger

	// Tracer defaults to a no-op tracer.
	Tracer Tracer

	// KeyProfile generates the unit key, pki.DefaultKeyProfile if nil.
	KeyProfile pki.KeyProfile

	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxRetries    int

	MetricsPort int

	// LogSlots are offered to the COS agent for collecting the router's
	// log files.
	LogSlots []string
}

// Validate returns an error if config cannot drive the Worker.
func (config Config) Validate() error {
	if config.UnitName == "" {
		return errors.NotValidf("empty UnitName")
	}
	if config.Address == "" {
		return errors.NotValidf("empty Address")
	}
	if config.Queue == nil {
		return errors.NotValidf("nil Queue")
	}
	if config.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if config.Controller == nil {
		return errors.NotValidf("nil Controller")
	}
	if config.Provisioner == nil {
		return errors.NotValidf("nil Provisioner")
	}
	if config.Publisher == nil {
		return errors.NotValidf("nil Publisher")
	}
	if config.StateFile == nil {
		return errors.NotValidf("nil StateFile")
	}
	if config.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if err := config.Options.Validate(); err != nil {
		return errors.Annotate(err, "router options")
	}
	if config.RetryDelay < 0 || config.MaxRetryDelay < 0 {
		return errors.NotValidf("negative retry delay")
	}
	if config.MaxRetries < 0 {
		return errors.NotValidf("negative MaxRetries")
	}
	return nil
}

func (config Config) withDefaults() Config {
	if config.Tracer == nil {
		config.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if config.KeyProfile == nil {
		config.KeyProfile = pki.DefaultKeyProfile
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.MaxRetryDelay == 0 {
		config.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.MetricsPort == 0 {
		config.MetricsPort = DefaultMetricsPort
	}
	return config
}

// Worker drives the reconciliation engine of one router unit.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config
	engine   *engine

	retryTimer  clock.Timer
	expiryTimer clock.Timer
}

// New returns a reconciler Worker backed by config, or an error.
func New(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	config = config.withDefaults()
	w := &Worker{
		config: config,
		engine: newEngine(config),
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	})
	return w, errors.Trace(err)
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

var _ worker.Worker = (*Worker)(nil)

func (w *Worker) loop() error {
	ctx, cancel := w.scopedContext()
	defer cancel()
	defer func() {
		stopTimer(w.retryTimer)
		stopTimer(w.expiryTimer)
	}()

	w.engine.start(ctx)
	for {
		var err error
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-w.config.Queue.Ready():
			err = w.engine.fold(ctx, w.config.Queue.Drain())
		case <-w.timerChan(w.retryTimer):
			w.retryTimer = nil
			err = w.engine.retryDue()
		case <-w.timerChan(w.expiryTimer):
			w.expiryTimer = nil
			err = w.engine.expiryDue()
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := w.engine.step(ctx); err != nil {
			return errors.Trace(err)
		}
		w.retryTimer = w.schedule(w.retryTimer, w.engine.retryAt)
		w.expiryTimer = w.schedule(w.expiryTimer, w.engine.nextExpiry())
	}
}

// scopedContext returns a context that is cancelled when the worker dies.
func (w *Worker) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}

func (w *Worker) timerChan(timer clock.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.Chan()
}

// schedule arranges for timer to fire at the given time, or stops it when
// the time is zero.
func (w *Worker) schedule(timer clock.Timer, at time.Time) clock.Timer {
	if at.IsZero() {
		stopTimer(timer)
		return nil
	}
	d := at.Sub(w.config.Clock.Now())
	if d < 0 {
		d = 0
	}
	if timer == nil {
		return w.config.Clock.NewTimer(d)
	}
	// Timer.Reset is only safe on a stopped and drained timer.
	stopTimer(timer)
	timer.Reset(d)
	return timer
}

func stopTimer(timer clock.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
