// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package routerconfig renders the MySQL Router configuration file from the
// derived reconciliation inputs. Rendering is pure: equal inputs always
// produce a byte-identical configuration.
package routerconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/ini.v1"

	coreerrors "github.com/canonical/mysql-router-operator/core/errors"
	"github.com/canonical/mysql-router-operator/core/secrets"
	"github.com/canonical/mysql-router-operator/core/topology"
)

func init() {
	// The router rejects options outside a section, so the default section
	// always carries its header.
	ini.DefaultHeader = true
	ini.PrettyFormat = false
}

// SecretLookup resolves secret refs without exposing their content.
type SecretLookup interface {
	// Digest returns a digest of the referenced content, false if the
	// ref cannot be resolved.
	Digest(ref secrets.Ref) (string, bool)
}

// Paths locate the router's files on the workload.
type Paths struct {
	ConfigFile string
	SecretsDir string
	LogDir     string
	RuntimeDir string
	DataDir    string
}

// DefaultPaths returns the router's packaged locations.
func DefaultPaths() Paths {
	return Paths{
		ConfigFile: "/etc/mysqlrouter/mysqlrouter.conf",
		SecretsDir: "/etc/mysqlrouter/secrets",
		LogDir:     "/var/log/mysqlrouter",
		RuntimeDir: "/run/mysqlrouter",
		DataDir:    "/var/lib/mysqlrouter",
	}
}

// Inputs are everything a render depends on.
type Inputs struct {
	UnitName    string
	Topology    topology.Topology
	Credentials secrets.Credentials
	TLS         *secrets.TLSInfo
	Options     Options
	Paths       Paths
	Secrets     SecretLookup

	// Monitoring, when set, protects the REST API with these credentials
	// and runs the metrics exporter against it on ExporterPort.
	Monitoring   *secrets.Credentials
	ExporterPort int

	// LogTargets receive the router's console log.
	LogTargets []LogTarget
}

// DerivedFrom records the input versions a config was rendered from.
type DerivedFrom struct {
	TopologyGeneration uint64
	CredentialsVersion int
	TLSVersion         int
}

// RouterConfig is a rendered router configuration.
type RouterConfig struct {
	Content     []byte
	Hash        string
	DerivedFrom DerivedFrom
	Secrets     []SecretFile
	RestartKey  string
	Exporter    *Exporter
	LogTargets  []LogTarget
}

// Refs returns the secret refs the configuration depends on.
func (c RouterConfig) Refs() []secrets.Ref {
	var refs []secrets.Ref
	seen := make(map[secrets.Ref]bool)
	for _, f := range c.Secrets {
		if !seen[f.Ref] {
			seen[f.Ref] = true
			refs = append(refs, f.Ref)
		}
	}
	return refs
}

// IsZero reports whether nothing has been rendered.
func (c RouterConfig) IsZero() bool {
	return c.Hash == ""
}

// Render produces the router configuration for in. It fails with
// IncompleteInputs when a valid configuration cannot be derived.
func Render(in Inputs) (RouterConfig, error) {
	if err := checkInputs(in); err != nil {
		return RouterConfig{}, errors.Trace(err)
	}
	paths := in.Paths
	if paths.ConfigFile == "" {
		paths = DefaultPaths()
	}
	opts := in.Options

	derived := DerivedFrom{
		TopologyGeneration: in.Topology.Generation,
		CredentialsVersion: in.Credentials.RotationVersion,
	}
	backend := SecretFile{
		Path: path.Join(paths.SecretsDir, "backend.cnf"),
		Ref:  in.Credentials.Ref,
	}
	files := []SecretFile{backend}

	sslMode := opts.ClientSSLMode
	var certFile, keyFile, caFile string
	if in.TLS != nil {
		derived.TLSVersion = in.TLS.Version
		certFile = path.Join(paths.SecretsDir, "router.crt")
		keyFile = path.Join(paths.SecretsDir, "router.key")
		caFile = path.Join(paths.SecretsDir, "ca.pem")
		files = append(files,
			SecretFile{Path: certFile, Ref: in.TLS.Ref, Key: secrets.CertificateKey},
			SecretFile{Path: keyFile, Ref: in.TLS.Ref, Key: secrets.PrivateKeyKey},
			SecretFile{Path: caFile, Ref: in.TLS.Ref, Key: secrets.CAChainKey},
		)
	} else if sslMode == SSLPreferred {
		sslMode = SSLDisabled
	}

	var exporter *Exporter
	if in.Monitoring != nil {
		scheme := "http"
		if in.TLS != nil {
			scheme = "https"
		}
		exporter = &Exporter{
			ListenPort:  in.ExporterPort,
			URL:         fmt.Sprintf("%s://127.0.0.1:%d", scheme, opts.HTTPPort),
			Credentials: in.Monitoring.Ref,
		}
		files = append(files, SecretFile{
			Path:         path.Join(paths.SecretsDir, restCredentialsFile),
			Ref:          in.Monitoring.Ref,
			PasswordFile: true,
		})
	}
	logTargets := sortedTargets(in.LogTargets)

	// Input versions stay out of the content: a replay that re-issues
	// the same material must render the same hash.
	f := ini.Empty()
	def := f.Section(ini.DefaultSection)
	def.Comment = fmt.Sprintf("# Managed by mysql-router-operator for %s.", in.UnitName)
	set(def, "name", routerName(in.UnitName))
	set(def, "logging_folder", paths.LogDir)
	set(def, "runtime_folder", paths.RuntimeDir)
	set(def, "data_folder", paths.DataDir)
	set(def, "connect_timeout", strconv.Itoa(opts.ConnectTimeout))
	set(def, "max_total_connections", strconv.Itoa(opts.MaxConnections))
	set(def, "client_ssl_mode", sslMode)
	if in.TLS != nil && sslMode != SSLPassthrough {
		set(def, "client_ssl_cert", certFile)
		set(def, "client_ssl_key", keyFile)
	}
	if sslMode == SSLPassthrough {
		set(def, "server_ssl_mode", "AS_CLIENT")
	} else {
		set(def, "server_ssl_mode", "PREFERRED")
	}
	if in.TLS != nil {
		set(def, "server_ssl_ca", caFile)
	}

	logger := section(f, "logger")
	set(logger, "level", opts.LogLevel)
	if len(logTargets) > 0 {
		set(logger, "sinks", "filelog,consolelog")
	}

	pool := section(f, "connection_pool")
	set(pool, "max_idle_server_connections", strconv.Itoa(opts.MaxIdleServerConnections))
	set(pool, "idle_timeout", strconv.Itoa(opts.IdleTimeout))

	rw := in.Topology.Primary.String()
	ro := readOnlyDestinations(in.Topology)
	route(f, "routing:rw", opts.BindAddress, opts.RWPort, rw, "first-available", "classic")
	route(f, "routing:ro", opts.BindAddress, opts.ROPort, ro, "round-robin", "classic")
	if opts.XProtocol {
		route(f, "routing:x_rw", opts.BindAddress, opts.XRWPort, rw, "first-available", "x")
		route(f, "routing:x_ro", opts.BindAddress, opts.XROPort, ro, "round-robin", "x")
	}

	http := section(f, "http_server")
	set(http, "bind_address", "127.0.0.1")
	set(http, "port", strconv.Itoa(opts.HTTPPort))
	if in.TLS != nil {
		set(http, "ssl", "1")
		set(http, "ssl_cert", certFile)
		set(http, "ssl_key", keyFile)
	} else {
		set(http, "ssl", "0")
	}
	section(f, "rest_api")
	restRouter := section(f, "rest_router")
	restRouting := section(f, "rest_routing")
	if exporter != nil {
		realm := section(f, "http_auth_realm:"+authRealm)
		set(realm, "backend", authBackend)
		set(realm, "method", "basic")
		set(realm, "name", "default_realm")
		backend := section(f, "http_auth_backend:"+authBackend)
		set(backend, "backend", "file")
		set(backend, "filename", path.Join(paths.SecretsDir, restCredentialsFile))
		set(restRouter, "require_realm", authRealm)
		set(restRouting, "require_realm", authRealm)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return RouterConfig{}, errors.Annotate(err, "writing router config")
	}
	content := buf.Bytes()

	return RouterConfig{
		Content:     content,
		Hash:        contentHash(content, files, exporter, logTargets, in.Secrets),
		DerivedFrom: derived,
		Secrets:     files,
		RestartKey:  restartKey(opts, sslMode, in.TLS, in.Secrets, exporter != nil, len(logTargets) > 0),
		Exporter:    exporter,
		LogTargets:  logTargets,
	}, nil
}

func checkInputs(in Inputs) error {
	if in.Secrets == nil {
		return errors.NotValidf("render without secret lookup")
	}
	if !in.Topology.HasPrimary() {
		return errors.Annotate(coreerrors.IncompleteInputs, "no primary endpoint")
	}
	if in.Credentials.Ref.IsZero() {
		return errors.Annotate(coreerrors.IncompleteInputs, "no backend credentials")
	}
	if _, ok := in.Secrets.Digest(in.Credentials.Ref); !ok {
		return errors.Annotatef(coreerrors.IncompleteInputs, "backend credentials %s not resolvable", in.Credentials.Ref)
	}
	if in.Monitoring != nil {
		if _, ok := in.Secrets.Digest(in.Monitoring.Ref); !ok {
			return errors.Annotatef(coreerrors.IncompleteInputs, "monitoring credentials %s not resolvable", in.Monitoring.Ref)
		}
		if in.ExporterPort <= 0 {
			return errors.NotValidf("exporter port %d", in.ExporterPort)
		}
	}
	if in.TLS == nil {
		if in.Options.ClientSSLMode == SSLRequired {
			return errors.Annotate(coreerrors.IncompleteInputs, "client ssl required without tls material")
		}
		return nil
	}
	if _, ok := in.Secrets.Digest(in.TLS.Ref); !ok {
		return errors.Annotatef(coreerrors.IncompleteInputs, "tls material %s not resolvable", in.TLS.Ref)
	}
	return nil
}

func readOnlyDestinations(t topology.Topology) string {
	if len(t.Secondaries) == 0 {
		return t.Primary.String()
	}
	ids := make([]string, len(t.Secondaries))
	for i, ep := range t.Secondaries {
		ids[i] = ep.String()
	}
	return strings.Join(ids, ",")
}

func route(f *ini.File, name, bindAddress string, port int, destinations, strategy, protocol string) {
	sec := section(f, name)
	set(sec, "bind_address", bindAddress)
	set(sec, "bind_port", strconv.Itoa(port))
	set(sec, "destinations", destinations)
	set(sec, "routing_strategy", strategy)
	set(sec, "protocol", protocol)
}

func section(f *ini.File, name string) *ini.Section {
	// NewSection only fails for an empty name.
	sec, _ := f.NewSection(name)
	return sec
}

func set(sec *ini.Section, key, value string) {
	// NewKey only fails for an empty key name.
	_, _ = sec.NewKey(key, value)
}

func routerName(unitName string) string {
	return strings.ReplaceAll(unitName, "/", "-")
}

// contentHash covers the config, the content of every secret file and the
// side services, so it is stable across agent restarts that re-issue refs.
func contentHash(content []byte, files []SecretFile, exporter *Exporter, targets []LogTarget, lookup SecretLookup) string {
	h := sha256.New()
	h.Write(content)
	for _, f := range files {
		digest, _ := lookup.Digest(f.Ref)
		fmt.Fprintf(h, "\x00%s\x00%s\x00%t\x00%s", f.Path, f.Key, f.PasswordFile, digest)
	}
	if exporter != nil {
		fmt.Fprintf(h, "\x00exporter\x00%d\x00%s", exporter.ListenPort, exporter.URL)
	}
	for _, t := range targets {
		fmt.Fprintf(h, "\x00log\x00%s\x00%s", t.Name, t.Location)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// restartKey covers the settings the router only reads at start-up.
func restartKey(opts Options, sslMode string, tls *secrets.TLSInfo, lookup SecretLookup, auth, console bool) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%t|%d|%d|%d|%s|%t|%t", opts.BindAddress, opts.RWPort, opts.ROPort,
		opts.XProtocol, opts.XRWPort, opts.XROPort, opts.HTTPPort, sslMode, auth, console)
	if tls != nil {
		digest, _ := lookup.Digest(tls.Ref)
		fmt.Fprintf(h, "|tls=%s", digest)
	}
	return hex.EncodeToString(h.Sum(nil))
}
