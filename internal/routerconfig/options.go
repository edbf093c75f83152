// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package routerconfig

import (
	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/juju/environschema.v1"
)

const (
	BindAddressKey              = "bind-address"
	RWPortKey                   = "rw-port"
	ROPortKey                   = "ro-port"
	XProtocolKey                = "x-protocol"
	XRWPortKey                  = "x-rw-port"
	XROPortKey                  = "x-ro-port"
	MaxConnectionsKey           = "max-connections"
	MaxIdleServerConnectionsKey = "max-idle-server-connections"
	IdleTimeoutKey              = "idle-timeout"
	ConnectTimeoutKey           = "connect-timeout"
	LogLevelKey                 = "log-level"
	HTTPPortKey                 = "http-port"
	ClientSSLModeKey            = "client-ssl-mode"
)

// Client SSL modes understood by the router.
const (
	SSLDisabled    = "DISABLED"
	SSLPreferred   = "PREFERRED"
	SSLRequired    = "REQUIRED"
	SSLPassthrough = "PASSTHROUGH"
)

var optionSchema = environschema.Fields{
	BindAddressKey: {
		Description: "The address the routing ports listen on.",
		Type:        environschema.Tstring,
	},
	RWPortKey: {
		Description: "The classic protocol read-write port.",
		Type:        environschema.Tint,
	},
	ROPortKey: {
		Description: "The classic protocol read-only port.",
		Type:        environschema.Tint,
	},
	XProtocolKey: {
		Description: "Whether to route the X protocol.",
		Type:        environschema.Tbool,
	},
	XRWPortKey: {
		Description: "The X protocol read-write port.",
		Type:        environschema.Tint,
	},
	XROPortKey: {
		Description: "The X protocol read-only port.",
		Type:        environschema.Tint,
	},
	MaxConnectionsKey: {
		Description: "The maximum number of client connections across all routes.",
		Type:        environschema.Tint,
	},
	MaxIdleServerConnectionsKey: {
		Description: "The number of idle server connections kept in the pool.",
		Type:        environschema.Tint,
	},
	IdleTimeoutKey: {
		Description: "Seconds an idle pooled connection is kept.",
		Type:        environschema.Tint,
	},
	ConnectTimeoutKey: {
		Description: "Seconds to wait when connecting to a backend server.",
		Type:        environschema.Tint,
	},
	LogLevelKey: {
		Description: "The router log level.",
		Type:        environschema.Tstring,
		Values:      []interface{}{"DEBUG", "NOTE", "INFO", "WARNING", "ERROR", "SYSTEM"},
	},
	HTTPPortKey: {
		Description: "The port of the router REST API, served on localhost.",
		Type:        environschema.Tint,
	},
	ClientSSLModeKey: {
		Description: "How client connections are encrypted.",
		Type:        environschema.Tstring,
		Values:      []interface{}{SSLDisabled, SSLPreferred, SSLRequired, SSLPassthrough},
	},
}

var optionDefaults = schema.Defaults{
	BindAddressKey:              "0.0.0.0",
	RWPortKey:                   6446,
	ROPortKey:                   6447,
	XProtocolKey:                false,
	XRWPortKey:                  6448,
	XROPortKey:                  6449,
	MaxConnectionsKey:           512,
	MaxIdleServerConnectionsKey: 64,
	IdleTimeoutKey:              5,
	ConnectTimeoutKey:           5,
	LogLevelKey:                 "INFO",
	HTTPPortKey:                 8443,
	ClientSSLModeKey:            SSLPreferred,
}

var optionChecker = func() schema.Checker {
	fields, _, err := optionSchema.ValidationSchema()
	if err != nil {
		panic(err)
	}
	return schema.StrictFieldMap(fields, optionDefaults)
}()

// Options are the operator-tunable router settings.
type Options struct {
	BindAddress              string
	RWPort                   int
	ROPort                   int
	XProtocol                bool
	XRWPort                  int
	XROPort                  int
	MaxConnections           int
	MaxIdleServerConnections int
	IdleTimeout              int
	ConnectTimeout           int
	LogLevel                 string
	HTTPPort                 int
	ClientSSLMode            string
}

// OptionSchema returns the declared option set.
func OptionSchema() environschema.Fields {
	return optionSchema
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	opts, err := ParseOptions(nil)
	if err != nil {
		panic(err)
	}
	return opts
}

// ParseOptions validates attrs against the option schema, filling in
// defaults. Unknown options are rejected.
func ParseOptions(attrs map[string]interface{}) (Options, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	out, err := optionChecker.Coerce(attrs, nil)
	if err != nil {
		return Options{}, errors.Annotate(err, "router options")
	}
	v := out.(map[string]interface{})
	opts := Options{
		BindAddress:              v[BindAddressKey].(string),
		RWPort:                   asInt(v[RWPortKey]),
		ROPort:                   asInt(v[ROPortKey]),
		XProtocol:                v[XProtocolKey].(bool),
		XRWPort:                  asInt(v[XRWPortKey]),
		XROPort:                  asInt(v[XROPortKey]),
		MaxConnections:           asInt(v[MaxConnectionsKey]),
		MaxIdleServerConnections: asInt(v[MaxIdleServerConnectionsKey]),
		IdleTimeout:              asInt(v[IdleTimeoutKey]),
		ConnectTimeout:           asInt(v[ConnectTimeoutKey]),
		LogLevel:                 v[LogLevelKey].(string),
		HTTPPort:                 asInt(v[HTTPPortKey]),
		ClientSSLMode:            v[ClientSSLModeKey].(string),
	}
	return opts, errors.Trace(opts.Validate())
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

// Validate checks relationships between options the schema cannot express.
func (o Options) Validate() error {
	ports := map[string]int{
		RWPortKey:   o.RWPort,
		ROPortKey:   o.ROPort,
		HTTPPortKey: o.HTTPPort,
	}
	if o.XProtocol {
		ports[XRWPortKey] = o.XRWPort
		ports[XROPortKey] = o.XROPort
	}
	seen := make(map[int]string)
	for _, key := range []string{RWPortKey, ROPortKey, XRWPortKey, XROPortKey, HTTPPortKey} {
		port, ok := ports[key]
		if !ok {
			continue
		}
		if port < 1 || port > 65535 {
			return errors.NotValidf("%s %d", key, port)
		}
		if other, ok := seen[port]; ok {
			return errors.NotValidf("%s %d already used by %s", key, port, other)
		}
		seen[port] = key
	}
	if o.MaxConnections < 1 {
		return errors.NotValidf("%s %d", MaxConnectionsKey, o.MaxConnections)
	}
	if o.IdleTimeout < 0 || o.ConnectTimeout < 1 {
		return errors.NotValidf("timeouts %d/%d", o.IdleTimeout, o.ConnectTimeout)
	}
	return nil
}
