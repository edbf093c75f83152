// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"
)

// setupLogging writes log records to stderr, and to a rotated file when
// one is configured. The returned func releases the file.
func setupLogging(cfg LogConfig, stderr io.Writer) (func(), error) {
	var (
		out     = stderr
		release = func() {}
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, errors.Annotatef(err, "creating log directory for %s", cfg.File)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(stderr, file)
		release = func() { _ = file.Close() }
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(out, loggo.DefaultFormatter)); err != nil {
		return nil, errors.Annotate(err, "installing log writer")
	}
	if err := loggo.ConfigureLoggers(cfg.Config); err != nil {
		return nil, errors.Annotatef(err, "logging config %q", cfg.Config)
	}
	return release, nil
}
