// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lifecycle

import (
	"context"
	"os"

	"github.com/canonical/mysql-router-operator/internal/routerconfig"
)

//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/workload_mock.go github.com/canonical/mysql-router-operator/internal/lifecycle Workload

// Health is the router health as reported by the workload.
type Health string

const (
	Healthy   Health = "healthy"
	Unhealthy Health = "unhealthy"
	Unknown   Health = "unknown"
)

// Workload is the substrate the router process runs on.
type Workload interface {
	// WriteFile writes a file on the workload, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, path string, content []byte, perm os.FileMode) error

	// Restart (re)starts the router service.
	Restart(ctx context.Context) error

	// Reload asks a running router to re-read its configuration.
	Reload(ctx context.Context) error

	// Stop stops the router service.
	Stop(ctx context.Context) error

	// Running reports whether the router service is running.
	Running(ctx context.Context) (bool, error)

	// Health reports the router's readiness check.
	Health(ctx context.Context) (Health, error)

	// Exec runs command on the workload with stdin as its standard
	// input and returns its standard output.
	Exec(ctx context.Context, command []string, stdin string) (string, error)

	// StartExporter (re)starts the metrics exporter with cfg.
	StartExporter(ctx context.Context, cfg ExporterConfig) error

	// StopExporter stops the metrics exporter if it is running.
	StopExporter(ctx context.Context) error

	// ForwardLogs pushes the router's logs to targets, and stops pushing
	// to any target not listed.
	ForwardLogs(ctx context.Context, targets []routerconfig.LogTarget) error
}

// ExporterConfig is what the metrics exporter needs to scrape the router.
type ExporterConfig struct {
	URL        string
	Username   string
	Password   string
	ListenPort int
}
