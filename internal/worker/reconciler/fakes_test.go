// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/testing"
	gc "gopkg.in/check.v1"

	"github.com/canonical/mysql-router-operator/core/relation"
	"github.com/canonical/mysql-router-operator/internal/lifecycle"
	"github.com/canonical/mysql-router-operator/internal/mysqlshell"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
)

// fakeController records what the engine asks of the router. The live
// config is what the workload would be serving.
type fakeController struct {
	testing.Stub

	mu        sync.Mutex
	applyErrs []error
	health    lifecycle.Health
	applied   routerconfig.RouterConfig
	live      routerconfig.RouterConfig

	// When gate is set, Apply announces itself on started and
	// waits for gate.
	started chan struct{}
	gate    chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{health: lifecycle.Healthy}
}

func (f *fakeController) failNextApplies(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErrs = append(f.applyErrs, errs...)
}

func (f *fakeController) setHealth(h lifecycle.Health) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = h
}

func (f *fakeController) Apply(_ context.Context, cfg routerconfig.RouterConfig) error {
	f.AddCall("Apply", cfg.Hash)
	if f.gate != nil {
		f.started <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = cfg
	if len(f.applyErrs) > 0 {
		err := f.applyErrs[0]
		f.applyErrs = f.applyErrs[1:]
		if err != nil {
			return err
		}
	}
	f.applied = cfg
	return nil
}

func (f *fakeController) Restore(_ context.Context, cfg routerconfig.RouterConfig) error {
	f.AddCall("Restore", cfg.Hash)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = cfg
	f.applied = cfg
	return nil
}

func (f *fakeController) Adopt(cfg routerconfig.RouterConfig) {
	f.AddCall("Adopt", cfg.Hash)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = cfg
	f.applied = cfg
}

func (f *fakeController) Applied() routerconfig.RouterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied
}

func (f *fakeController) Live() routerconfig.RouterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeController) Health(context.Context) lifecycle.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeController) applies() int {
	var n int
	for _, call := range f.Calls() {
		if call.FuncName == "Apply" {
			n++
		}
	}
	return n
}

// fakeProvisioner accepts every account change and records the users.
type fakeProvisioner struct {
	testing.Stub
}

func (f *fakeProvisioner) CreateClientUser(_ context.Context, conn mysqlshell.Connection, user mysqlshell.ClientUser) error {
	f.AddCall("CreateClientUser", conn.Endpoint.String(), user.Username, user.Database)
	return f.NextErr()
}

func (f *fakeProvisioner) DeleteUser(_ context.Context, conn mysqlshell.Connection, username string) error {
	f.AddCall("DeleteUser", conn.Endpoint.String(), username)
	return f.NextErr()
}

type fakePublisher struct {
	mu      sync.Mutex
	bags    map[relation.Key]relation.Bag
	cleared []relation.Key
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{bags: make(map[relation.Key]relation.Bag)}
}

func (p *fakePublisher) Publish(key relation.Key, bag relation.Bag) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bags[key] = bag.Copy()
	return nil
}

func (p *fakePublisher) Clear(key relation.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.bags, key)
	p.cleared = append(p.cleared, key)
	return nil
}

func (p *fakePublisher) bag(key relation.Key) (relation.Bag, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bag, ok := p.bags[key]
	return bag, ok
}

// csr returns the certificate signing request published on a
// certificates relation.
func (p *fakePublisher) csr(c *gc.C, id int) string {
	bag, ok := p.bag(relation.Key{Name: relation.Certificates, ID: id})
	c.Assert(ok, gc.Equals, true)
	var entries []struct {
		CSR string `json:"certificate_signing_request"`
	}
	c.Assert(json.Unmarshal([]byte(bag["certificate_signing_requests"]), &entries), gc.IsNil)
	c.Assert(entries, gc.HasLen, 1)
	return entries[0].CSR
}
