// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pebble runs the router as a pebble service in a Kubernetes
// sidecar container.
package pebble

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/canonical/pebble/client"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/mysql-router-operator/internal/lifecycle"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
)

const (
	// ServiceName is the pebble service running the router.
	ServiceName = "mysql-router"

	// ReadyCheck is the pebble check reporting router readiness.
	ReadyCheck = "mysql-router-ready"

	// ExporterServiceName is the pebble service exporting router metrics.
	ExporterServiceName = "mysql-router-exporter"

	layerLabel         = "mysql-router"
	exporterLayerLabel = "mysql-router-exporter"
	logsLayerLabel     = "mysql-router-logs"
)

// Process is a command started by Exec.
type Process interface {
	Wait() error
}

// Client is the part of the pebble client the workload uses.
type Client interface {
	Push(opts *client.PushOptions) error
	AddLayer(opts *client.AddLayerOptions) error
	Restart(opts *client.ServiceOptions) (string, error)
	Stop(opts *client.ServiceOptions) (string, error)
	WaitChange(id string, opts *client.WaitChangeOptions) (*client.Change, error)
	SendSignal(opts *client.SendSignalOptions) error
	Services(opts *client.ServicesOptions) ([]*client.ServiceInfo, error)
	Checks(opts *client.ChecksOptions) ([]*client.CheckInfo, error)
	Exec(opts *client.ExecOptions) (Process, error)
}

type pebbleClient struct {
	*client.Client
}

func (c pebbleClient) Exec(opts *client.ExecOptions) (Process, error) {
	return c.Client.Exec(opts)
}

// NewClient connects to the pebble daemon listening on socket.
func NewClient(socket string) (Client, error) {
	c, err := client.New(&client.Config{Socket: socket})
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to pebble at %q", socket)
	}
	return pebbleClient{Client: c}, nil
}

// Config holds the router service definition.
type Config struct {
	Client     Client
	ConfigFile string
	User       string
	ReadyPort  int
	ChangeWait time.Duration

	// ExecTimeout bounds commands run with Exec.
	ExecTimeout time.Duration
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if config.ConfigFile == "" {
		return errors.NotValidf("empty ConfigFile")
	}
	if config.ReadyPort <= 0 {
		return errors.NotValidf("ReadyPort %d", config.ReadyPort)
	}
	return nil
}

// Workload implements lifecycle.Workload on top of pebble.
type Workload struct {
	config Config

	mu         sync.Mutex
	layerAdded bool
	logTargets set.Strings
}

var _ lifecycle.Workload = (*Workload)(nil)

// New returns a pebble workload.
func New(config Config) (*Workload, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.ChangeWait == 0 {
		config.ChangeWait = time.Minute
	}
	if config.ExecTimeout == 0 {
		config.ExecTimeout = time.Minute
	}
	return &Workload{config: config, logTargets: set.NewStrings()}, nil
}

type layer struct {
	Summary    string               `yaml:"summary"`
	Services   map[string]service   `yaml:"services,omitempty"`
	Checks     map[string]check     `yaml:"checks,omitempty"`
	LogTargets map[string]logTarget `yaml:"log-targets,omitempty"`
}

type service struct {
	Override    string            `yaml:"override"`
	Summary     string            `yaml:"summary"`
	Command     string            `yaml:"command"`
	Startup     string            `yaml:"startup"`
	User        string            `yaml:"user,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

type logTarget struct {
	Override string   `yaml:"override"`
	Type     string   `yaml:"type,omitempty"`
	Location string   `yaml:"location,omitempty"`
	Services []string `yaml:"services"`
}

type check struct {
	Override  string   `yaml:"override"`
	Level     string   `yaml:"level"`
	Period    string   `yaml:"period"`
	Threshold int      `yaml:"threshold"`
	TCP       tcpCheck `yaml:"tcp"`
}

type tcpCheck struct {
	Port int `yaml:"port"`
}

// Layer returns the pebble layer defining the router service and its
// readiness check.
func (w *Workload) Layer() ([]byte, error) {
	data, err := yaml.Marshal(layer{
		Summary: "MySQL Router",
		Services: map[string]service{
			ServiceName: {
				Override: "replace",
				Summary:  "MySQL Router",
				Command:  fmt.Sprintf("mysqlrouter --config %s", w.config.ConfigFile),
				Startup:  "enabled",
				User:     w.config.User,
			},
		},
		Checks: map[string]check{
			ReadyCheck: {
				Override:  "replace",
				Level:     string(client.ReadyLevel),
				Period:    "5s",
				Threshold: 3,
				TCP:       tcpCheck{Port: w.config.ReadyPort},
			},
		},
	})
	return data, errors.Trace(err)
}

// WriteFile implements lifecycle.Workload.
func (w *Workload) WriteFile(_ context.Context, path string, content []byte, perm os.FileMode) error {
	err := w.config.Client.Push(&client.PushOptions{
		Source:      bytes.NewReader(content),
		Path:        path,
		MakeDirs:    true,
		Permissions: perm.Perm(),
		User:        w.config.User,
		Group:       w.config.User,
	})
	return errors.Annotatef(err, "pushing %s", path)
}

func (w *Workload) ensureLayer() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.layerAdded {
		return nil
	}
	data, err := w.Layer()
	if err != nil {
		return errors.Trace(err)
	}
	if err := w.addLayer(layerLabel, data); err != nil {
		return errors.Trace(err)
	}
	w.layerAdded = true
	return nil
}

func (w *Workload) addLayer(label string, data []byte) error {
	err := w.config.Client.AddLayer(&client.AddLayerOptions{
		Combine:   true,
		Label:     label,
		LayerData: data,
	})
	return errors.Annotatef(err, "adding pebble layer %q", label)
}

func (w *Workload) wait(op, changeID string) error {
	change, err := w.config.Client.WaitChange(changeID, &client.WaitChangeOptions{Timeout: w.config.ChangeWait})
	if err != nil {
		return errors.Annotatef(err, "waiting for %s", op)
	}
	if change.Err != "" {
		return errors.Errorf("%s failed: %s", op, change.Err)
	}
	return nil
}

// Restart implements lifecycle.Workload.
func (w *Workload) Restart(context.Context) error {
	if err := w.ensureLayer(); err != nil {
		return errors.Trace(err)
	}
	id, err := w.config.Client.Restart(&client.ServiceOptions{Names: []string{ServiceName}})
	if err != nil {
		return errors.Annotate(err, "restarting router")
	}
	return errors.Trace(w.wait("restart", id))
}

// Reload implements lifecycle.Workload. The router re-reads its dynamic
// configuration on SIGHUP.
func (w *Workload) Reload(context.Context) error {
	err := w.config.Client.SendSignal(&client.SendSignalOptions{
		Signal:   "SIGHUP",
		Services: []string{ServiceName},
	})
	return errors.Annotate(err, "reloading router")
}

// Stop implements lifecycle.Workload.
func (w *Workload) Stop(context.Context) error {
	id, err := w.config.Client.Stop(&client.ServiceOptions{Names: []string{ServiceName}})
	if err != nil {
		return errors.Annotate(err, "stopping router")
	}
	return errors.Trace(w.wait("stop", id))
}

// Running implements lifecycle.Workload.
func (w *Workload) Running(context.Context) (bool, error) {
	return w.active(ServiceName)
}

func (w *Workload) active(name string) (bool, error) {
	services, err := w.config.Client.Services(&client.ServicesOptions{Names: []string{name}})
	if err != nil {
		return false, errors.Annotate(err, "querying services")
	}
	for _, svc := range services {
		if svc.Name == name {
			return svc.Current == client.StatusActive, nil
		}
	}
	return false, nil
}

// Exec implements lifecycle.Workload. The command runs in the router
// container as the router user.
func (w *Workload) Exec(_ context.Context, command []string, stdin string) (string, error) {
	if len(command) == 0 {
		return "", errors.NotValidf("empty command")
	}
	var stdout, stderr bytes.Buffer
	proc, err := w.config.Client.Exec(&client.ExecOptions{
		Command: command,
		User:    w.config.User,
		Group:   w.config.User,
		Timeout: w.config.ExecTimeout,
		Stdin:   strings.NewReader(stdin),
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if err != nil {
		return "", errors.Annotatef(err, "running %s", command[0])
	}
	if err := proc.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.String(), errors.Annotatef(err, "running %s: %s", command[0], msg)
		}
		return stdout.String(), errors.Annotatef(err, "running %s", command[0])
	}
	return stdout.String(), nil
}

// ExporterLayer returns the pebble layer running the metrics exporter
// with cfg.
func (w *Workload) ExporterLayer(cfg lifecycle.ExporterConfig) ([]byte, error) {
	data, err := yaml.Marshal(layer{
		Summary: "MySQL Router exporter",
		Services: map[string]service{
			ExporterServiceName: {
				Override: "replace",
				Summary:  "MySQL Router metrics exporter",
				Command:  fmt.Sprintf("mysqlrouter_exporter --listen-port %d --skip-tls-verify", cfg.ListenPort),
				Startup:  "enabled",
				User:     w.config.User,
				Environment: map[string]string{
					"MYSQLROUTER_EXPORTER_URL":  cfg.URL,
					"MYSQLROUTER_EXPORTER_USER": cfg.Username,
					"MYSQLROUTER_EXPORTER_PASS": cfg.Password,
				},
			},
		},
	})
	return data, errors.Trace(err)
}

// StartExporter implements lifecycle.Workload.
func (w *Workload) StartExporter(_ context.Context, cfg lifecycle.ExporterConfig) error {
	data, err := w.ExporterLayer(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	if err := w.addLayer(exporterLayerLabel, data); err != nil {
		return errors.Trace(err)
	}
	id, err := w.config.Client.Restart(&client.ServiceOptions{Names: []string{ExporterServiceName}})
	if err != nil {
		return errors.Annotate(err, "restarting exporter")
	}
	return errors.Trace(w.wait("exporter restart", id))
}

// StopExporter implements lifecycle.Workload.
func (w *Workload) StopExporter(context.Context) error {
	running, err := w.active(ExporterServiceName)
	if err != nil || !running {
		return errors.Trace(err)
	}
	id, err := w.config.Client.Stop(&client.ServiceOptions{Names: []string{ExporterServiceName}})
	if err != nil {
		return errors.Annotate(err, "stopping exporter")
	}
	return errors.Trace(w.wait("exporter stop", id))
}

// LogsLayer returns the pebble layer forwarding service logs to targets.
// Targets forwarded before but not listed are disabled.
func (w *Workload) LogsLayer(targets []routerconfig.LogTarget) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logsLayer(targets)
}

func (w *Workload) logsLayer(targets []routerconfig.LogTarget) ([]byte, error) {
	l := layer{
		Summary:    "MySQL Router log forwarding",
		LogTargets: make(map[string]logTarget),
	}
	for _, t := range targets {
		l.LogTargets[t.Name] = logTarget{
			Override: "replace",
			Type:     "loki",
			Location: t.Location,
			Services: []string{"all"},
		}
	}
	for _, name := range w.logTargets.SortedValues() {
		if _, ok := l.LogTargets[name]; !ok {
			l.LogTargets[name] = logTarget{Override: "merge", Services: []string{"-all"}}
		}
	}
	data, err := yaml.Marshal(l)
	return data, errors.Trace(err)
}

// ForwardLogs implements lifecycle.Workload. Pebble forwards the output
// of every service, the router's console log included.
func (w *Workload) ForwardLogs(_ context.Context, targets []routerconfig.LogTarget) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(targets) == 0 && w.logTargets.IsEmpty() {
		return nil
	}
	data, err := w.logsLayer(targets)
	if err != nil {
		return errors.Trace(err)
	}
	if err := w.addLayer(logsLayerLabel, data); err != nil {
		return errors.Trace(err)
	}
	for _, t := range targets {
		w.logTargets.Add(t.Name)
	}
	return nil
}

// Health implements lifecycle.Workload.
func (w *Workload) Health(ctx context.Context) (lifecycle.Health, error) {
	checks, err := w.config.Client.Checks(&client.ChecksOptions{Names: []string{ReadyCheck}})
	if err != nil {
		return lifecycle.Unknown, errors.Annotate(err, "querying checks")
	}
	for _, c := range checks {
		if c.Name != ReadyCheck {
			continue
		}
		if c.Status != client.CheckStatusUp {
			return lifecycle.Unhealthy, nil
		}
		running, err := w.Running(ctx)
		if err != nil {
			return lifecycle.Unknown, errors.Trace(err)
		}
		if !running {
			return lifecycle.Unhealthy, nil
		}
		return lifecycle.Healthy, nil
	}
	return lifecycle.Unknown, nil
}
