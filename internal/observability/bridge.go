// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package observability exposes the reconciler's state publications as
// metrics and log records, and routes its spans to the tracing relation.
// It only reads from the hub and never feeds back into the reconciler.
package observability

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"gopkg.in/tomb.v2"

	"github.com/canonical/mysql-router-operator/core/reconcile"
	"github.com/canonical/mysql-router-operator/internal/worker/reconciler"
)

// Logger represents the methods used for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// BridgeConfig holds the dependencies of a Bridge.
type BridgeConfig struct {
	Hub       *pubsub.SimpleHub
	Collector *Collector
	Tracer    *SwitchTracer
	Logger    Logger
}

// Validate returns an error if config cannot drive a Bridge.
func (config BridgeConfig) Validate() error {
	if config.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if config.Collector == nil {
		return errors.NotValidf("nil Collector")
	}
	if config.Tracer == nil {
		return errors.NotValidf("nil Tracer")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Bridge subscribes to the reconciler's hub topics.
type Bridge struct {
	tomb   tomb.Tomb
	config BridgeConfig

	tracing chan reconciler.TracingChange
}

// NewBridge returns a running Bridge.
func NewBridge(config BridgeConfig) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	b := &Bridge{
		config:  config,
		tracing: make(chan reconciler.TracingChange),
	}
	unsubState := config.Hub.Subscribe(reconciler.StateTopic, b.onState)
	unsubTracing := config.Hub.Subscribe(reconciler.TracingTopic, b.onTracing)
	b.tomb.Go(func() error {
		defer unsubState()
		defer unsubTracing()
		return b.loop()
	})
	return b, nil
}

// Kill is part of the worker.Worker interface.
func (b *Bridge) Kill() {
	b.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (b *Bridge) Wait() error {
	return b.tomb.Wait()
}

func (b *Bridge) loop() error {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.config.Tracer.Close(ctx)
	}()

	ctx := b.tomb.Context(context.Background())
	for {
		select {
		case <-b.tomb.Dying():
			return tomb.ErrDying
		case change := <-b.tracing:
			// A tracing failure never stops the unit; spans are
			// dropped until the next change.
			if err := b.config.Tracer.Switch(ctx, change); err != nil {
				b.config.Logger.Errorf("%v", err)
			}
		}
	}
}

func (b *Bridge) onState(_ string, data interface{}) {
	change, ok := data.(reconciler.StateChange)
	if !ok {
		b.config.Logger.Errorf("unexpected state publication %T", data)
		return
	}
	b.config.Collector.Observe(change)
	if change.From == change.To {
		return
	}
	switch change.To {
	case reconcile.Blocked, reconcile.Degraded:
		b.config.Logger.Warningf("router %s on %s: %s", change.To, change.Trigger, change.LastError)
	case reconcile.Idle:
		b.config.Logger.Infof("router idle serving config %.12s", change.Hash)
	default:
		b.config.Logger.Debugf("router %s on %s", change.To, change.Trigger)
	}
}

func (b *Bridge) onTracing(_ string, data interface{}) {
	change, ok := data.(reconciler.TracingChange)
	if !ok {
		b.config.Logger.Errorf("unexpected tracing publication %T", data)
		return
	}
	select {
	case b.tracing <- change:
	case <-b.tomb.Dying():
	}
}
