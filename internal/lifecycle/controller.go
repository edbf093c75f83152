// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lifecycle applies rendered router configurations to the workload
// and verifies the router becomes healthy on them.
package lifecycle

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/secrets"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
)

const (
	secretFileMode = 0600
	configFileMode = 0644

	// DefaultHealthAttempts is the number of health checks made after an
	// apply before it is declared failed.
	DefaultHealthAttempts = 5

	// DefaultHealthDelay is the delay before the second check. It doubles
	// after every check.
	DefaultHealthDelay = time.Second

	// DefaultHealthMaxDuration bounds the whole health wait.
	DefaultHealthMaxDuration = time.Minute
)

// DefaultPasswdCommand maintains router password files.
var DefaultPasswdCommand = []string{"mysqlrouter_passwd"}

// Logger represents the methods used by the controller for logging.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// SecretResolver gives the controller access to secret content.
type SecretResolver interface {
	Get(ref secrets.Ref) (secrets.Value, error)
}

// Config holds the dependencies and budgets of a Controller.
type Config struct {
	Workload   Workload
	Secrets    SecretResolver
	Clock      clock.Clock
	Logger     Logger
	ConfigFile string

	HealthAttempts    int
	HealthDelay       time.Duration
	HealthMaxDuration time.Duration

	// PasswdCommand is the mysqlrouter_passwd invocation used for
	// password files. It defaults to DefaultPasswdCommand.
	PasswdCommand []string
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Workload == nil {
		return errors.NotValidf("nil Workload")
	}
	if config.Secrets == nil {
		return errors.NotValidf("nil Secrets")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.ConfigFile == "" {
		return errors.NotValidf("empty ConfigFile")
	}
	if config.HealthAttempts < 0 {
		return errors.NotValidf("negative HealthAttempts")
	}
	if config.HealthDelay < 0 || config.HealthMaxDuration < 0 {
		return errors.NotValidf("negative health delay")
	}
	return nil
}

// Controller owns the router configuration file and process.
type Controller struct {
	config Config

	mu      sync.Mutex
	written routerconfig.RouterConfig
	applied routerconfig.RouterConfig

	// exporter and logTargets are what the workload runs beside the
	// router, as of the last successful sync.
	exporter   *routerconfig.Exporter
	logTargets []routerconfig.LogTarget
}

// NewController returns a controller for the configured workload.
func NewController(config Config) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.HealthAttempts == 0 {
		config.HealthAttempts = DefaultHealthAttempts
	}
	if config.HealthDelay == 0 {
		config.HealthDelay = DefaultHealthDelay
	}
	if config.HealthMaxDuration == 0 {
		config.HealthMaxDuration = DefaultHealthMaxDuration
	}
	if len(config.PasswdCommand) == 0 {
		config.PasswdCommand = DefaultPasswdCommand
	}
	return &Controller{config: config}, nil
}

// Adopt records cfg as already running on the workload, so the next apply
// of a compatible config reloads rather than restarts.
func (c *Controller) Adopt(cfg routerconfig.RouterConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = cfg
	c.applied = cfg
	c.exporter = cfg.Exporter
	c.logTargets = cfg.LogTargets
}

// Applied returns the last config the router was healthy on.
func (c *Controller) Applied() routerconfig.RouterConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

// Apply writes cfg and its secret files to the workload, restarts or
// reloads the router and waits for it to report healthy. Any failure
// satisfies errors.Is(err, RouterApplyFailed). Apply does not roll back;
// see Restore.
func (c *Controller) Apply(ctx context.Context, cfg routerconfig.RouterConfig) error {
	if err := c.apply(ctx, cfg); err != nil {
		return errors.Trace(err)
	}
	c.mu.Lock()
	c.applied = cfg
	c.mu.Unlock()
	c.config.Logger.Infof("router healthy on config %.12s", cfg.Hash)
	return nil
}

// Restore re-applies a previously good config after a failed apply.
func (c *Controller) Restore(ctx context.Context, cfg routerconfig.RouterConfig) error {
	if cfg.IsZero() {
		return nil
	}
	c.config.Logger.Warningf("restoring last-known-good config %.12s", cfg.Hash)
	if err := c.apply(ctx, cfg); err != nil {
		return errors.Annotate(err, "restoring")
	}
	c.mu.Lock()
	c.applied = cfg
	c.mu.Unlock()
	return nil
}

func (c *Controller) apply(ctx context.Context, cfg routerconfig.RouterConfig) error {
	w := c.config.Workload
	for _, f := range cfg.Secrets {
		value, err := c.config.Secrets.Get(f.Ref)
		if err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "resolving %s: %v", f.Path, err)
		}
		if f.PasswordFile {
			if err := c.setPassword(ctx, f.Path, value); err != nil {
				return errors.Annotatef(coreerrors.RouterApplyFailed, "writing %s: %v", f.Path, err)
			}
			continue
		}
		content, err := f.Content(value)
		if err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "rendering %s: %v", f.Path, err)
		}
		if err := w.WriteFile(ctx, f.Path, content, secretFileMode); err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "writing %s: %v", f.Path, err)
		}
	}
	// The config goes last so it never refers to a secret file that is
	// not yet in place.
	if err := w.WriteFile(ctx, c.config.ConfigFile, cfg.Content, configFileMode); err != nil {
		return errors.Annotatef(coreerrors.RouterApplyFailed, "writing %s: %v", c.config.ConfigFile, err)
	}

	c.mu.Lock()
	previous := c.written
	c.written = cfg
	c.mu.Unlock()

	restart := previous.IsZero() || previous.RestartKey != cfg.RestartKey
	if !restart {
		running, err := w.Running(ctx)
		if err != nil {
			c.config.Logger.Warningf("cannot determine router state, restarting: %v", err)
		}
		restart = !running
	}
	if restart {
		c.config.Logger.Debugf("restarting router for config %.12s", cfg.Hash)
		if err := w.Restart(ctx); err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "restarting: %v", err)
		}
	} else {
		c.config.Logger.Debugf("reloading router for config %.12s", cfg.Hash)
		if err := w.Reload(ctx); err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "reloading: %v", err)
		}
	}
	if err := c.waitHealthy(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.syncServices(ctx, cfg))
}

func (c *Controller) setPassword(ctx context.Context, path string, value secrets.Value) error {
	user := value[secrets.UsernameKey]
	if user == "" {
		return errors.NotFoundf("username")
	}
	command := append(append([]string(nil), c.config.PasswdCommand...), "set", path, user)
	_, err := c.config.Workload.Exec(ctx, command, value[secrets.PasswordKey]+"\n")
	return errors.Trace(err)
}

// syncServices brings the exporter and log forwarding in line with cfg
// once the router is healthy on it.
func (c *Controller) syncServices(ctx context.Context, cfg routerconfig.RouterConfig) error {
	c.mu.Lock()
	exporter, targets := c.exporter, c.logTargets
	c.mu.Unlock()

	w := c.config.Workload
	switch {
	case cfg.Exporter != nil && (exporter == nil || *exporter != *cfg.Exporter):
		value, err := c.config.Secrets.Get(cfg.Exporter.Credentials)
		if err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "resolving exporter credentials: %v", err)
		}
		if err := w.StartExporter(ctx, ExporterConfig{
			URL:        cfg.Exporter.URL,
			Username:   value[secrets.UsernameKey],
			Password:   value[secrets.PasswordKey],
			ListenPort: cfg.Exporter.ListenPort,
		}); err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "starting exporter: %v", err)
		}
		c.config.Logger.Infof("metrics exporter listening on port %d", cfg.Exporter.ListenPort)
	case cfg.Exporter == nil && exporter != nil:
		if err := w.StopExporter(ctx); err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "stopping exporter: %v", err)
		}
		c.config.Logger.Infof("metrics exporter stopped")
	}
	c.mu.Lock()
	c.exporter = cfg.Exporter
	c.mu.Unlock()

	if !reflect.DeepEqual(targets, cfg.LogTargets) {
		if err := w.ForwardLogs(ctx, cfg.LogTargets); err != nil {
			return errors.Annotatef(coreerrors.RouterApplyFailed, "forwarding logs: %v", err)
		}
		c.mu.Lock()
		c.logTargets = cfg.LogTargets
		c.mu.Unlock()
	}
	return nil
}

func (c *Controller) waitHealthy(ctx context.Context) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			health, err := c.config.Workload.Health(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			if health != Healthy {
				return errors.Errorf("router %s", health)
			}
			return nil
		},
		NotifyFunc: func(lastErr error, attempt int) {
			c.config.Logger.Debugf("health check %d: %v", attempt, lastErr)
		},
		Attempts:    c.config.HealthAttempts,
		Delay:       c.config.HealthDelay,
		BackoffFunc: retry.DoubleDelay,
		MaxDuration: c.config.HealthMaxDuration,
		Clock:       c.config.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if last := retry.LastError(err); last != nil {
			err = last
		}
		return errors.Annotatef(coreerrors.RouterApplyFailed, "waiting for health: %v", err)
	}
	return nil
}

// Health reports the router health, Unknown when it cannot be determined.
func (c *Controller) Health(ctx context.Context) Health {
	health, err := c.config.Workload.Health(ctx)
	if err != nil {
		c.config.Logger.Debugf("health check failed: %v", err)
		return Unknown
	}
	return health
}

// Stop stops the router service.
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.config.Workload.Stop(ctx); err != nil {
		return errors.Annotate(err, "stopping router")
	}
	c.mu.Lock()
	exporter := c.exporter
	c.written = routerconfig.RouterConfig{}
	c.mu.Unlock()
	if exporter != nil {
		if err := c.config.Workload.StopExporter(ctx); err != nil {
			return errors.Annotate(err, "stopping exporter")
		}
		c.mu.Lock()
		c.exporter = nil
		c.mu.Unlock()
	}
	return nil
}
