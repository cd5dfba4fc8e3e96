// Package telemetry provides OpenTelemetry tracing and Prometheus metrics for
// verity's lifecycle operations.
//
// Tracing is disabled by default. When disabled, a no-op tracer provider is
// installed and spans cost nothing.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  exporter: stdout     # stdout | none
//	  service_name: verity
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/verity/internal/config"
)

const instrumentationScope = "github.com/randalmurphal/verity"

// Provider owns the tracer provider installed by Init.
type Provider struct {
	tracers     trace.TracerProvider
	shutdownFns []func(context.Context) error
}

// Init builds the tracer provider described by cfg and installs it as the
// global provider. Spans are written to out (stdout when nil) by the stdout
// exporter.
func Init(ctx context.Context, cfg config.TelemetryConfig, out io.Writer) (*Provider, error) {
	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "none" {
		p := &Provider{tracers: tracenoop.NewTracerProvider()}
		otel.SetTracerProvider(p.tracers)
		return p, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "verity"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(name)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	if out == nil {
		out = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tracers: tp, shutdownFns: []func(context.Context) error{tp.Shutdown}}, nil
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	return &Provider{tracers: tracenoop.NewTracerProvider()}
}

// Tracer returns a tracer with the given instrumentation name (or the module scope).
func (p *Provider) Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return p.tracers.Tracer(name)
}

// Shutdown flushes pending spans and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdownFns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFns = nil
	return errors.Join(errs...)
}
