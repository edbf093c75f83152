// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relationwatcher feeds relation events dropped into the inbox
// directory to the reconciler queue.
package relationwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/internal/relationio"
)

// DefaultRescanInterval bounds how long a missed notification can delay
// an event.
const DefaultRescanInterval = time.Minute

// rejectedSuffix is appended to inbox files that cannot be decoded, so
// they are kept for inspection but never read again.
const rejectedSuffix = ".rejected"

// Logger represents the methods used by the worker to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Warningf(string, ...interface{})
}

// Queue accepts relation events in delivery order.
type Queue interface {
	Push(events ...relation.RawEvent)
}

// Config defines the operation of the Worker.
type Config struct {
	InboxDir       string
	Queue          Queue
	Clock          clock.Clock
	Logger         Logger
	RescanInterval time.Duration
}

// Validate returns an error if config cannot drive the Worker.
func (config Config) Validate() error {
	if config.InboxDir == "" {
		return errors.NotValidf("empty InboxDir")
	}
	if config.Queue == nil {
		return errors.NotValidf("nil Queue")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.RescanInterval < 0 {
		return errors.NotValidf("negative RescanInterval")
	}
	return nil
}

// Worker moves inbox files onto the queue.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config
}

// New returns a Worker watching config.InboxDir.
func New(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.RescanInterval == 0 {
		config.RescanInterval = DefaultRescanInterval
	}
	w := &Worker{config: config}
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
	dw, err := newDirWatcher(w.config.InboxDir)
	if err != nil {
		return errors.Trace(err)
	}
	if err := w.catacomb.Add(dw); err != nil {
		return errors.Trace(err)
	}

	// Events written before the watch started.
	if err := w.scan(); err != nil {
		return errors.Trace(err)
	}
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-dw.Changes():
		case <-w.config.Clock.After(w.config.RescanInterval):
		}
		if err := w.scan(); err != nil {
			return errors.Trace(err)
		}
	}
}

// scan pushes every pending event as one batch, then removes the files.
// A crash between the two replays the batch, which the engine absorbs.
func (w *Worker) scan() error {
	paths, err := relationio.PendingEvents(w.config.InboxDir)
	if err != nil {
		return errors.Trace(err)
	}
	if len(paths) == 0 {
		return nil
	}
	events := make([]relation.RawEvent, 0, len(paths))
	var consumed []string
	for _, path := range paths {
		ev, err := relationio.ReadEvent(path)
		if errors.Is(err, coreerrors.MalformedRelationData) {
			w.config.Logger.Warningf("rejecting inbox file: %v", err)
			if err := os.Rename(path, path+rejectedSuffix); err != nil {
				return errors.Trace(err)
			}
			continue
		} else if os.IsNotExist(errors.Cause(err)) {
			continue
		} else if err != nil {
			return errors.Trace(err)
		}
		events = append(events, ev)
		consumed = append(consumed, path)
	}
	w.config.Queue.Push(events...)
	for _, path := range consumed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Annotatef(err, "removing %s", filepath.Base(path))
		}
	}
	w.config.Logger.Debugf("queued %d relation events", len(events))
	return nil
}
