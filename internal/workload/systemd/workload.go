// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package systemd runs the router as a systemd unit on a machine.
package systemd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/canonical/mysql-router-operator/internal/lifecycle"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
)

// DBusAPI describes the systemd dbus methods the workload uses.
type DBusAPI interface {
	Close()
	ListUnits() ([]dbus.UnitStatus, error)
	StartUnit(string, string, chan<- string) (int, error)
	StopUnit(string, string, chan<- string) (int, error)
	RestartUnit(string, string, chan<- string) (int, error)
	ReloadUnit(string, string, chan<- string) (int, error)
}

// DBusAPIFactory opens a dbus connection.
type DBusAPIFactory = func() (DBusAPI, error)

// NewDBusAPI connects to the system bus.
var NewDBusAPI DBusAPIFactory = func() (DBusAPI, error) {
	return dbus.New()
}

// Logger represents the methods used by the workload for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Config describes the router unit.
type Config struct {
	UnitName string
	NewDBus  DBusAPIFactory
	Logger   Logger

	// CheckAddress is dialled to confirm the router accepts
	// connections. Health falls back to the unit state when empty.
	CheckAddress string
	CheckTimeout time.Duration

	// JobTimeout bounds the wait for a dbus job to complete.
	JobTimeout time.Duration

	// ExporterUnit runs the metrics exporter. It reads its settings
	// from ExporterEnvFile.
	ExporterUnit    string
	ExporterEnvFile string

	// RunCommand runs commands for Exec. It defaults to running them
	// directly on the machine.
	RunCommand CommandRunner
}

// CommandRunner runs command with stdin and returns its output.
type CommandRunner func(ctx context.Context, command []string, stdin string) (string, error)

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.UnitName == "" {
		return errors.NotValidf("empty UnitName")
	}
	if config.NewDBus == nil {
		return errors.NotValidf("nil NewDBus")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Workload implements lifecycle.Workload on top of systemd.
type Workload struct {
	config Config
}

var _ lifecycle.Workload = (*Workload)(nil)

// New returns a systemd workload.
func New(config Config) (*Workload, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.CheckTimeout == 0 {
		config.CheckTimeout = time.Second
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = time.Minute
	}
	if config.RunCommand == nil {
		config.RunCommand = runCommand
	}
	return &Workload{config: config}, nil
}

func (w *Workload) newConn() (DBusAPI, error) {
	conn, err := w.config.NewDBus()
	if err != nil {
		w.config.Logger.Errorf("failed to connect to dbus for unit %q: %v", w.config.UnitName, err)
		return nil, errors.Annotate(err, "connecting to dbus")
	}
	return conn, nil
}

// WriteFile implements lifecycle.Workload.
func (w *Workload) WriteFile(_ context.Context, path string, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Annotatef(err, "creating directory for %s", path)
	}
	return errors.Annotatef(utils.AtomicWriteFile(path, content, perm), "writing %s", path)
}

type jobFunc func(DBusAPI, string, string, chan<- string) (int, error)

func (w *Workload) job(ctx context.Context, op, unit string, call jobFunc) error {
	conn, err := w.newConn()
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	statusCh := make(chan string, 1)
	if _, err := call(conn, unit, "replace", statusCh); err != nil {
		return errors.Annotatef(err, "dbus %s request failed", op)
	}
	ctx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()
	select {
	case status := <-statusCh:
		if status != "done" {
			return errors.Errorf("failed to %s %s (job status %q)", op, unit, status)
		}
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "waiting for %s of %s", op, unit)
	}
	w.config.Logger.Debugf("unit %q %s done", unit, op)
	return nil
}

// Restart implements lifecycle.Workload. Restarting a stopped unit
// starts it.
func (w *Workload) Restart(ctx context.Context) error {
	return errors.Trace(w.job(ctx, "restart", w.config.UnitName, DBusAPI.RestartUnit))
}

// Reload implements lifecycle.Workload.
func (w *Workload) Reload(ctx context.Context) error {
	return errors.Trace(w.job(ctx, "reload", w.config.UnitName, DBusAPI.ReloadUnit))
}

// Stop implements lifecycle.Workload.
func (w *Workload) Stop(ctx context.Context) error {
	running, err := w.Running(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !running {
		w.config.Logger.Debugf("unit %q not running", w.config.UnitName)
		return nil
	}
	return errors.Trace(w.job(ctx, "stop", w.config.UnitName, DBusAPI.StopUnit))
}

func (w *Workload) unitStatus() (*dbus.UnitStatus, error) {
	return w.statusOf(w.config.UnitName)
}

func (w *Workload) statusOf(name string) (*dbus.UnitStatus, error) {
	conn, err := w.newConn()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer conn.Close()

	units, err := conn.ListUnits()
	if err != nil {
		return nil, errors.Annotate(err, "failed to query units from dbus")
	}
	for _, unit := range units {
		if unit.Name == name {
			return &unit, nil
		}
	}
	return nil, nil
}

// Running implements lifecycle.Workload.
func (w *Workload) Running(context.Context) (bool, error) {
	unit, err := w.unitStatus()
	if err != nil {
		return false, errors.Trace(err)
	}
	return unit != nil && unit.LoadState == "loaded" && unit.ActiveState == "active", nil
}

// Health implements lifecycle.Workload.
func (w *Workload) Health(ctx context.Context) (lifecycle.Health, error) {
	unit, err := w.unitStatus()
	if err != nil {
		return lifecycle.Unknown, errors.Trace(err)
	}
	if unit == nil {
		return lifecycle.Unknown, nil
	}
	if unit.LoadState != "loaded" || unit.ActiveState != "active" {
		return lifecycle.Unhealthy, nil
	}
	if w.config.CheckAddress == "" {
		return lifecycle.Healthy, nil
	}
	dialer := net.Dialer{Timeout: w.config.CheckTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", w.config.CheckAddress)
	if err != nil {
		w.config.Logger.Debugf("dialling %s failed: %v", w.config.CheckAddress, err)
		return lifecycle.Unhealthy, nil
	}
	_ = conn.Close()
	return lifecycle.Healthy, nil
}

// Exec implements lifecycle.Workload.
func (w *Workload) Exec(ctx context.Context, command []string, stdin string) (string, error) {
	if len(command) == 0 {
		return "", errors.NotValidf("empty command")
	}
	out, err := w.config.RunCommand(ctx, command, stdin)
	return out, errors.Trace(err)
}

func runCommand(ctx context.Context, command []string, stdin string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.String(), errors.Annotatef(err, "running %s: %s", command[0], msg)
		}
		return stdout.String(), errors.Annotatef(err, "running %s", command[0])
	}
	return stdout.String(), nil
}

// StartExporter implements lifecycle.Workload. The exporter unit is
// restarted on a fresh environment file holding cfg.
func (w *Workload) StartExporter(ctx context.Context, cfg lifecycle.ExporterConfig) error {
	if w.config.ExporterUnit == "" || w.config.ExporterEnvFile == "" {
		return errors.NotSupportedf("metrics exporter without a unit")
	}
	var env strings.Builder
	fmt.Fprintf(&env, "MYSQLROUTER_EXPORTER_URL=%s\n", cfg.URL)
	fmt.Fprintf(&env, "MYSQLROUTER_EXPORTER_USER=%s\n", cfg.Username)
	fmt.Fprintf(&env, "MYSQLROUTER_EXPORTER_PASS=%s\n", cfg.Password)
	fmt.Fprintf(&env, "LISTEN_PORT=%d\n", cfg.ListenPort)
	if err := w.WriteFile(ctx, w.config.ExporterEnvFile, []byte(env.String()), 0600); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.job(ctx, "restart", w.config.ExporterUnit, DBusAPI.RestartUnit))
}

// StopExporter implements lifecycle.Workload.
func (w *Workload) StopExporter(ctx context.Context) error {
	if w.config.ExporterUnit == "" {
		return nil
	}
	unit, err := w.statusOf(w.config.ExporterUnit)
	if err != nil {
		return errors.Trace(err)
	}
	if unit == nil || unit.ActiveState != "active" {
		return nil
	}
	return errors.Trace(w.job(ctx, "stop", w.config.ExporterUnit, DBusAPI.StopUnit))
}

// ForwardLogs implements lifecycle.Workload. On machines the log agent
// collects the router's log files through its log slot, so there is
// nothing to push from here.
func (w *Workload) ForwardLogs(_ context.Context, targets []routerconfig.LogTarget) error {
	if len(targets) > 0 {
		w.config.Logger.Debugf("%d log targets served by the machine log agent", len(targets))
	}
	return nil
}

// CheckAddress returns the loopback address of a routing port.
func CheckAddress(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
