// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command mysqlrouteroperator reconciles one MySQL Router unit against
// its relations.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/canonical/mysql-router-operator/version"
)

var logger = loggo.GetLogger("mysqlrouter.cmd")

const (
	// exitErr is returned when the operator is run in an invalid way.
	exitErr = 2
	// exitFailed is returned when the agent stops with an error.
	exitFailed = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(Main(ctx, os.Args, os.Stdout, os.Stderr))
}

// Main runs the operator until ctx is done or a worker fails.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := gnuflag.NewFlagSet(args[0], gnuflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", defaultConfigPath, "path to the agent configuration")
	showVersion := flags.Bool("version", false, "print the version and exit")
	check := flags.Bool("check", false, "validate the agent configuration and exit")
	if err := flags.Parse(true, args[1:]); err != nil {
		return exitErr
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	cfg, err := ReadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitErr
	}
	if *check {
		fmt.Fprintf(stdout, "%s: ok\n", *configPath)
		return 0
	}

	release, err := setupLogging(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitErr
	}
	defer release()

	logger.Infof("mysql-router-operator %s starting for %s", version.String(), cfg.UnitName)
	a, err := newAgent(cfg, clock.WallClock)
	if err != nil {
		logger.Errorf("%v", err)
		return exitFailed
	}
	go func() {
		select {
		case <-ctx.Done():
			logger.Infof("shutting down")
		case <-a.catacomb.Dying():
		}
		a.Kill()
	}()
	if err := a.Wait(); err != nil {
		logger.Errorf("agent stopped: %v", err)
		return exitFailed
	}
	return 0
}
