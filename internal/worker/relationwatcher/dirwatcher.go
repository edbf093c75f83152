// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relationwatcher

import (
	"github.com/fsnotify/fsnotify"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

// dirWatcher coalesces file creation in a directory into a change
// channel. It is a worker, so it can be added to a catacomb.
type dirWatcher struct {
	tomb    tomb.Tomb
	watcher *fsnotify.Watcher
	changes chan struct{}
}

func newDirWatcher(dir string) (*dirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Annotate(err, "creating inbox watcher")
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, errors.Annotatef(err, "watching %q", dir)
	}
	w := &dirWatcher{
		watcher: watcher,
		changes: make(chan struct{}, 1),
	}
	w.tomb.Go(w.loop)
	return w, nil
}

func (w *dirWatcher) loop() error {
	defer w.watcher.Close()
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("inbox watcher closed")
			}
			// Atomic writes land as a rename, which is reported as a
			// create of the target.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("inbox watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// A rescan picks up whatever was dropped.
				select {
				case w.changes <- struct{}{}:
				default:
				}
				continue
			}
			return errors.Annotate(err, "watching inbox")
		}
	}
}

// Changes signals that the directory may hold new files.
func (w *dirWatcher) Changes() <-chan struct{} {
	return w.changes
}

// Kill is part of the worker.Worker interface.
func (w *dirWatcher) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *dirWatcher) Wait() error {
	return w.tomb.Wait()
}
