// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"gopkg.in/yaml.v3"

	"github.com/canonical/mysql-router-operator/internal/pki"
	"github.com/canonical/mysql-router-operator/internal/routerconfig"
	"github.com/canonical/mysql-router-operator/internal/worker/reconciler"
)

const (
	// Kubernetes runs the router as a pebble service in a sidecar.
	Kubernetes = "kubernetes"

	// Machine runs the router as a systemd unit.
	Machine = "machine"
)

const (
	defaultConfigPath     = "/etc/mysql-router-operator/agent.yaml"
	defaultPebbleSocket   = "/charm/container/pebble.socket"
	defaultSystemdUnit    = "mysqlrouter.service"
	defaultExporterUnit   = "snap.charmed-mysql.mysqlrouter-exporter.service"
	defaultExporterEnv    = "/var/snap/charmed-mysql/common/mysqlrouter-exporter.env"
	defaultMachineShell   = "charmed-mysql.mysqlsh"
	defaultMachinePasswd  = "charmed-mysql.mysqlrouter-passwd"
	defaultMachineLogSlot = "charmed-mysql:logs"
	defaultMetricsAddress = "127.0.0.1:9153"
	defaultLoggingConfig  = "<root>=INFO"
	defaultLogMaxSize     = 100
	defaultLogMaxBackups  = 2
)

// PebbleConfig locates the pebble daemon managing the router container.
type PebbleConfig struct {
	Socket string `yaml:"socket,omitempty"`
	User   string `yaml:"user,omitempty"`
}

// SystemdConfig names the router's systemd units.
type SystemdConfig struct {
	Unit            string `yaml:"unit,omitempty"`
	ExporterUnit    string `yaml:"exporter-unit,omitempty"`
	ExporterEnvFile string `yaml:"exporter-env-file,omitempty"`
}

// ToolsConfig names the commands run on the workload.
type ToolsConfig struct {
	Shell  string   `yaml:"mysqlsh,omitempty"`
	Passwd []string `yaml:"mysqlrouter-passwd,omitempty"`
}

// PathsConfig overrides the router's packaged locations.
type PathsConfig struct {
	ConfigFile string `yaml:"config-file,omitempty"`
	SecretsDir string `yaml:"secrets-dir,omitempty"`
	LogDir     string `yaml:"log-dir,omitempty"`
	RuntimeDir string `yaml:"runtime-dir,omitempty"`
	DataDir    string `yaml:"data-dir,omitempty"`
}

// LogConfig controls the operator's own log output.
type LogConfig struct {
	File       string `yaml:"file,omitempty"`
	Config     string `yaml:"config,omitempty"`
	MaxSize    int    `yaml:"max-size-mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty"`
}

// AgentConfig is the operator's configuration file.
type AgentConfig struct {
	UnitName  string   `yaml:"unit-name"`
	Address   string   `yaml:"address"`
	SANs      []string `yaml:"sans,omitempty"`
	Substrate string   `yaml:"substrate"`

	// KeyType selects the unit's TLS key, see pki.KeyTypes.
	KeyType string `yaml:"key-type,omitempty"`

	Pebble  PebbleConfig  `yaml:"pebble,omitempty"`
	Systemd SystemdConfig `yaml:"systemd,omitempty"`
	Paths   PathsConfig   `yaml:"paths,omitempty"`
	Tools   ToolsConfig   `yaml:"tools,omitempty"`

	InboxDir  string `yaml:"inbox-dir"`
	OutboxDir string `yaml:"outbox-dir"`
	StateFile string `yaml:"state-file"`

	RouterOptions map[string]interface{} `yaml:"router-options,omitempty"`

	RetryDelay    time.Duration `yaml:"retry-delay,omitempty"`
	MaxRetryDelay time.Duration `yaml:"max-retry-delay,omitempty"`
	MaxRetries    int           `yaml:"max-retries,omitempty"`

	HealthAttempts    int           `yaml:"health-attempts,omitempty"`
	HealthDelay       time.Duration `yaml:"health-delay,omitempty"`
	HealthMaxDuration time.Duration `yaml:"health-max-duration,omitempty"`

	MetricsAddress string `yaml:"metrics-address,omitempty"`

	// RouterMetricsPort is advertised to the COS agent.
	RouterMetricsPort int `yaml:"router-metrics-port,omitempty"`

	// LogSlots are the snap log slots offered to the COS agent.
	LogSlots []string `yaml:"log-slots,omitempty"`

	Log LogConfig `yaml:"log,omitempty"`
}

// ReadConfig reads and validates the agent configuration at path.
func ReadConfig(path string) (AgentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return AgentConfig{}, errors.Annotate(err, "opening agent config")
	}
	defer f.Close()
	cfg, err := ParseConfig(f)
	return cfg, errors.Annotatef(err, "agent config %q", path)
}

// ParseConfig decodes an agent configuration, filling in defaults.
// Unknown keys are rejected.
func ParseConfig(r io.Reader) (AgentConfig, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var cfg AgentConfig
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return AgentConfig{}, errors.Annotate(err, "decoding")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, errors.Trace(err)
	}
	return cfg, nil
}

func (cfg AgentConfig) withDefaults() AgentConfig {
	if cfg.Substrate == Kubernetes && cfg.Pebble.Socket == "" {
		cfg.Pebble.Socket = defaultPebbleSocket
	}
	if cfg.Substrate == Machine {
		if cfg.Systemd.Unit == "" {
			cfg.Systemd.Unit = defaultSystemdUnit
		}
		if cfg.Systemd.ExporterUnit == "" {
			cfg.Systemd.ExporterUnit = defaultExporterUnit
		}
		if cfg.Systemd.ExporterEnvFile == "" {
			cfg.Systemd.ExporterEnvFile = defaultExporterEnv
		}
		if cfg.Tools.Shell == "" {
			cfg.Tools.Shell = defaultMachineShell
		}
		if len(cfg.Tools.Passwd) == 0 {
			cfg.Tools.Passwd = []string{defaultMachinePasswd}
		}
		if cfg.LogSlots == nil {
			cfg.LogSlots = []string{defaultMachineLogSlot}
		}
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = defaultMetricsAddress
	}
	if cfg.RouterMetricsPort == 0 {
		cfg.RouterMetricsPort = reconciler.DefaultMetricsPort
	}
	if cfg.Log.Config == "" {
		cfg.Log.Config = defaultLoggingConfig
	}
	if cfg.Log.MaxSize == 0 {
		cfg.Log.MaxSize = defaultLogMaxSize
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = defaultLogMaxBackups
	}
	return cfg
}

// Validate returns an error if the configuration cannot run an agent.
func (cfg AgentConfig) Validate() error {
	if !names.IsValidUnit(cfg.UnitName) {
		return errors.NotValidf("unit name %q", cfg.UnitName)
	}
	if cfg.Address == "" {
		return errors.NotValidf("empty address")
	}
	switch cfg.Substrate {
	case Kubernetes, Machine:
	default:
		return errors.NotValidf("substrate %q", cfg.Substrate)
	}
	if cfg.InboxDir == "" {
		return errors.NotValidf("empty inbox-dir")
	}
	if cfg.OutboxDir == "" {
		return errors.NotValidf("empty outbox-dir")
	}
	if cfg.InboxDir == cfg.OutboxDir {
		return errors.NotValidf("inbox-dir equal to outbox-dir")
	}
	if cfg.StateFile == "" {
		return errors.NotValidf("empty state-file")
	}
	if cfg.RetryDelay < 0 || cfg.MaxRetryDelay < 0 || cfg.HealthDelay < 0 || cfg.HealthMaxDuration < 0 {
		return errors.NotValidf("negative delay")
	}
	if cfg.MaxRetries < 0 || cfg.HealthAttempts < 0 {
		return errors.NotValidf("negative attempt budget")
	}
	if _, err := pki.KeyProfileFor(cfg.KeyType); err != nil {
		return errors.Trace(err)
	}
	if _, err := cfg.Options(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Options returns the validated router options.
func (cfg AgentConfig) Options() (routerconfig.Options, error) {
	return routerconfig.ParseOptions(cfg.RouterOptions)
}

// RouterPaths returns the router paths with any overrides applied.
func (cfg AgentConfig) RouterPaths() routerconfig.Paths {
	paths := routerconfig.DefaultPaths()
	override := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	override(&paths.ConfigFile, cfg.Paths.ConfigFile)
	override(&paths.SecretsDir, cfg.Paths.SecretsDir)
	override(&paths.LogDir, cfg.Paths.LogDir)
	override(&paths.RuntimeDir, cfg.Paths.RuntimeDir)
	override(&paths.DataDir, cfg.Paths.DataDir)
	return paths
}
