// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/canonical/mysql-router-operator/internal/lifecycle"
	"github.com/canonical/mysql-router-operator/internal/mysqlshell"
	"github.com/canonical/mysql-router-operator/internal/observability"
	"github.com/canonical/mysql-router-operator/internal/pki"
	"github.com/canonical/mysql-router-operator/internal/relationio"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
	"github.com/canonical/mysql-router-operator/internal/secretstore"
	"github.com/canonical/mysql-router-operator/internal/workload/pebble"
	"github.com/canonical/mysql-router-operator/internal/workload/systemd"
	"github.com/canonical/mysql-router-operator/internal/worker/reconciler"
	"github.com/canonical/mysql-router-operator/internal/worker/relationwatcher"
)

// agent runs the workers of one router unit and dies with the first of
// them to fail.
type agent struct {
	catacomb catacomb.Catacomb
	config   AgentConfig
	clock    clock.Clock

	// metricsAddr receives the bound metrics address once serving.
	metricsAddr chan string
}

func newAgent(config AgentConfig, clk clock.Clock) (*agent, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	a := &agent{
		config:      config,
		clock:       clk,
		metricsAddr: make(chan string, 1),
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &a.catacomb,
		Work: a.loop,
	})
	return a, errors.Trace(err)
}

// Kill is part of the worker.Worker interface.
func (a *agent) Kill() {
	a.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (a *agent) Wait() error {
	return a.catacomb.Wait()
}

func (a *agent) loop() error {
	cfg := a.config
	opts, err := cfg.Options()
	if err != nil {
		return errors.Trace(err)
	}
	paths := cfg.RouterPaths()
	keyProfile, err := pki.KeyProfileFor(cfg.KeyType)
	if err != nil {
		return errors.Trace(err)
	}
	for _, dir := range []string{cfg.InboxDir, cfg.OutboxDir, filepath.Dir(cfg.StateFile)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Annotatef(err, "creating %s", dir)
		}
	}

	store := secretstore.New(secretstore.Config{
		Generators: secretstore.DefaultGenerators(cfg.UnitName),
		Logger:     loggo.GetLogger("mysqlrouter.secretstore"),
	})
	workload, err := a.newWorkload(opts, paths)
	if err != nil {
		return errors.Trace(err)
	}
	controller, err := lifecycle.NewController(lifecycle.Config{
		Workload:          workload,
		Secrets:           store,
		Clock:             a.clock,
		Logger:            loggo.GetLogger("mysqlrouter.lifecycle"),
		ConfigFile:        paths.ConfigFile,
		PasswdCommand:     cfg.Tools.Passwd,
		HealthAttempts:    cfg.HealthAttempts,
		HealthDelay:       cfg.HealthDelay,
		HealthMaxDuration: cfg.HealthMaxDuration,
	})
	if err != nil {
		return errors.Trace(err)
	}

	shell, err := mysqlshell.New(mysqlshell.Config{
		Runner:   workload,
		Logger:   loggo.GetLogger("mysqlrouter.mysqlshell"),
		UnitName: cfg.UnitName,
		Binary:   cfg.Tools.Shell,
	})
	if err != nil {
		return errors.Trace(err)
	}

	hub := pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
		Logger: loggo.GetLogger("mysqlrouter.pubsub"),
	})
	collector := observability.NewMetricsCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tracer := observability.NewSwitchTracer(observability.TracerConfig{
		InstanceID: cfg.UnitName,
		Logger:     loggo.GetLogger("mysqlrouter.observability.tracer"),
	})

	bridge, err := observability.NewBridge(observability.BridgeConfig{
		Hub:       hub,
		Collector: collector,
		Tracer:    tracer,
		Logger:    loggo.GetLogger("mysqlrouter.observability"),
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := a.catacomb.Add(bridge); err != nil {
		return errors.Trace(err)
	}

	queue := reconciler.NewQueue()
	rw, err := reconciler.New(reconciler.Config{
		UnitName:      cfg.UnitName,
		Address:       cfg.Address,
		SANs:          cfg.SANs,
		Options:       opts,
		Paths:         paths,
		Queue:         queue,
		Store:         store,
		Controller:    controller,
		Provisioner:   shell,
		Publisher:     relationio.NewOutbox(cfg.OutboxDir, loggo.GetLogger("mysqlrouter.relationio")),
		StateFile:     reconciler.NewStateFile(cfg.StateFile),
		Hub:           hub,
		Clock:         a.clock,
		Logger:        loggo.GetLogger("mysqlrouter.reconciler"),
		Tracer:        tracer,
		KeyProfile:    keyProfile,
		RetryDelay:    cfg.RetryDelay,
		MaxRetryDelay: cfg.MaxRetryDelay,
		MaxRetries:    cfg.MaxRetries,
		MetricsPort:   cfg.RouterMetricsPort,
		LogSlots:      cfg.LogSlots,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := a.catacomb.Add(rw); err != nil {
		return errors.Trace(err)
	}

	watcher, err := relationwatcher.New(relationwatcher.Config{
		InboxDir: cfg.InboxDir,
		Queue:    queue,
		Clock:    a.clock,
		Logger:   loggo.GetLogger("mysqlrouter.relationwatcher"),
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := a.catacomb.Add(watcher); err != nil {
		return errors.Trace(err)
	}

	metrics, err := newMetricsServer(cfg.MetricsAddress, registry, loggo.GetLogger("mysqlrouter.metrics"))
	if err != nil {
		return errors.Trace(err)
	}
	if err := a.catacomb.Add(metrics); err != nil {
		return errors.Trace(err)
	}
	a.metricsAddr <- metrics.Addr()

	logger.Infof("started unit workers for %q on %s", cfg.UnitName, cfg.Substrate)
	<-a.catacomb.Dying()
	return a.catacomb.ErrDying()
}

func (a *agent) newWorkload(opts routerconfig.Options, paths routerconfig.Paths) (lifecycle.Workload, error) {
	cfg := a.config
	switch cfg.Substrate {
	case Kubernetes:
		client, err := pebble.NewClient(cfg.Pebble.Socket)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return pebble.New(pebble.Config{
			Client:     client,
			ConfigFile: paths.ConfigFile,
			User:       cfg.Pebble.User,
			ReadyPort:  opts.RWPort,
		})
	case Machine:
		return systemd.New(systemd.Config{
			UnitName:        cfg.Systemd.Unit,
			ExporterUnit:    cfg.Systemd.ExporterUnit,
			ExporterEnvFile: cfg.Systemd.ExporterEnvFile,
			NewDBus:         systemd.NewDBusAPI,
			Logger:          loggo.GetLogger("mysqlrouter.workload.systemd"),
			CheckAddress:    systemd.CheckAddress(opts.RWPort),
		})
	}
	return nil, errors.NotValidf("substrate %q", cfg.Substrate)
}

var _ worker.Worker = (*agent)(nil)
