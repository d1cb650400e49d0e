// SPDX-FileCopyrightText: 2026 The ax Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry sets up optional OpenTelemetry tracing for a single ax
// invocation. Spans cover the device authorization request, the polling loop
// and resource calls.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"

	defaultServiceName = "ax"
)

// Options configures the TracerProvider. An empty Exporter disables tracing.
type Options struct {
	// Exporter selects "otlp", "stdout" or "none". "none" records spans
	// without exporting them.
	Exporter string

	// Endpoint is the OTLP collector endpoint (e.g. "localhost:4317").
	Endpoint string

	// Insecure disables TLS for the OTLP gRPC connection.
	Insecure bool

	// Writer receives stdout exporter output. Defaults to os.Stderr so spans
	// never mix with command output.
	Writer io.Writer

	ServiceName    string
	ServiceVersion string

	Logger *zap.SugaredLogger
}

// ShutdownFunc flushes pending spans and stops the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

func ValidateExporter(exporter string) error {
	switch exporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
		return nil
	default:
		return fmt.Errorf("unknown trace exporter %q: supported values are otlp, stdout, none", exporter)
	}
}

// Init installs the global TracerProvider and propagator. With tracing
// disabled a no-op provider is installed and the ShutdownFunc always returns
// nil.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if err := ValidateExporter(opts.Exporter); err != nil {
		return nil, nil, err
	}
	if opts.Exporter == "" {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = defaultServiceName
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch opts.Exporter {
	case ExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{}
		if opts.Endpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(opts.Endpoint))
		}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating OTLP gRPC exporter: %w", err)
		}
		log.Debugw("OTLP trace exporter initialized", "endpoint", opts.Endpoint, "insecure", opts.Insecure)
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
	case ExporterNone:
		log.Debugw("Tracing enabled without exporter")
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Debugw("OpenTelemetry internal error", "error", err)
	}))

	shutdown := func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}
	return tp, shutdown, nil
}
