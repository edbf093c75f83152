// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/tomb.v2"
)

// metricsServer serves the operator's metrics registry.
type metricsServer struct {
	tomb     tomb.Tomb
	listener net.Listener
	server   *http.Server
	logger   Logger
}

// Logger represents the methods used for logging.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

func newMetricsServer(addr string, registry *prometheus.Registry, logger Logger) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening for metrics on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s := &metricsServer{
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
	s.tomb.Go(s.loop)
	return s, nil
}

// Addr returns the address the server listens on.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *metricsServer) loop() error {
	s.tomb.Go(func() error {
		s.logger.Infof("serving metrics on %s", s.Addr())
		err := s.server.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Annotate(err, "serving metrics")
	})
	<-s.tomb.Dying()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Errorf("failed to shut down metrics server: %v", err)
	}
	return tomb.ErrDying
}

// Kill is part of the worker.Worker interface.
func (s *metricsServer) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *metricsServer) Wait() error {
	return s.tomb.Wait()
}
