// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"sync"

	"github.com/canonical/mysql-router-operator/core/relation"
)

// Queue serializes raw relation events from any number of producers into
// the single reconciliation loop. It is unbounded and preserves the order
// in which events were pushed.
type Queue struct {
	mu     sync.Mutex
	events []relation.RawEvent
	ready  chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends events to the queue. It never blocks.
func (q *Queue) Push(events ...relation.RawEvent) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	q.events = append(q.events, events...)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives a value whenever events have been
// pushed since the last Drain.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns every queued event.
func (q *Queue) Drain() []relation.RawEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
