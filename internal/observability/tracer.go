// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observability

import (
	"context"
	"strings"
	"sync"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/canonical/mysql-router-operator/internal/relationdata"
	"github.com/canonical/mysql-router-operator/internal/worker/reconciler"
	"github.com/canonical/mysql-router-operator/version"
)

// ServiceName identifies the operator to the tracing backend.
const ServiceName = "mysql-router-operator"

// ClientTracerProvider is the interface for a tracer provider.
type ClientTracerProvider interface {
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NewClientFunc creates a tracer exporting to endpoint.
type NewClientFunc func(ctx context.Context, endpoint, instanceID string) (ClientTracerProvider, trace.Tracer, error)

// TracerConfig holds the dependencies of a SwitchTracer.
type TracerConfig struct {
	// InstanceID is recorded as the service instance, usually the unit
	// name.
	InstanceID string
	NewClient  NewClientFunc
	Logger     Logger
}

// SwitchTracer exports spans to the endpoint published on the tracing
// relation, and drops them while there is none.
type SwitchTracer struct {
	instanceID string
	newClient  NewClientFunc
	logger     Logger

	mu       sync.RWMutex
	endpoint string
	tracer   trace.Tracer
	provider ClientTracerProvider
}

// NewSwitchTracer returns a tracer that drops every span until it is
// switched to an endpoint.
func NewSwitchTracer(config TracerConfig) *SwitchTracer {
	newClient := config.NewClient
	if newClient == nil {
		newClient = NewClient
	}
	return &SwitchTracer{
		instanceID: config.InstanceID,
		newClient:  newClient,
		logger:     config.Logger,
		tracer:     noop.NewTracerProvider().Tracer(""),
	}
}

// Start creates a span and a context.Context containing the newly-created span.
func (t *SwitchTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.mu.RLock()
	tracer := t.tracer
	t.mu.RUnlock()
	return tracer.Start(ctx, name, opts...)
}

// Endpoint returns the endpoint spans are exported to, empty when spans
// are dropped.
func (t *SwitchTracer) Endpoint() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endpoint
}

// Switch replaces the exporter according to change. The previous exporter
// is flushed and shut down.
func (t *SwitchTracer) Switch(ctx context.Context, change reconciler.TracingChange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if change.Endpoint == t.endpoint {
		return nil
	}
	if change.Endpoint != "" && change.Protocol != relationdata.DefaultTracingProtocol {
		t.logger.Warningf("tracing protocol %q not supported, spans are dropped", change.Protocol)
		change.Endpoint = ""
	}

	var (
		provider ClientTracerProvider
		tracer   trace.Tracer = noop.NewTracerProvider().Tracer("")
	)
	if change.Endpoint != "" {
		var err error
		provider, tracer, err = t.newClient(ctx, change.Endpoint, t.instanceID)
		if err != nil {
			return errors.Annotatef(err, "creating tracer for %q", change.Endpoint)
		}
	}
	t.shutdown(ctx)
	t.endpoint, t.tracer, t.provider = change.Endpoint, tracer, provider
	if change.Endpoint == "" {
		t.logger.Infof("tracing disabled")
	} else {
		t.logger.Infof("exporting traces to %s", change.Endpoint)
	}
	return nil
}

// Close flushes and shuts down the current exporter.
func (t *SwitchTracer) Close(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown(ctx)
	t.endpoint, t.tracer, t.provider = "", noop.NewTracerProvider().Tracer(""), nil
}

func (t *SwitchTracer) shutdown(ctx context.Context) {
	if t.provider == nil {
		return
	}
	if err := t.provider.ForceFlush(ctx); err != nil {
		t.logger.Infof("failed to flush client: %v", err)
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		t.logger.Infof("failed to shutdown provider: %v", err)
	}
}

// NewClient returns a tracer exporting over OTLP gRPC. Endpoints without
// an https scheme are dialled without TLS.
func NewClient(ctx context.Context, endpoint, instanceID string) (ClientTracerProvider, trace.Tracer, error) {
	options := []otlptracegrpc.Option{}
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		options = append(options, otlptracegrpc.WithEndpoint(strings.TrimPrefix(endpoint, "https://")))
	default:
		options = append(options,
			otlptracegrpc.WithEndpoint(strings.TrimPrefix(endpoint, "http://")),
			otlptracegrpc.WithInsecure(),
		)
	}

	client := otlptracegrpc.NewClient(options...)
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(ServiceName, instanceID)),
	)
	return tp, tp.Tracer("mysqlrouter.reconciler"), nil
}

func newResource(serviceName, serviceID string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.String()),
		semconv.ServiceInstanceID(serviceID),
	)
}
