// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// ErrUnknownExporter is returned by Setup for an unsupported exporter name.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Options configures Setup.
type Options struct {
	// Exporter is one of ExporterNone, ExporterStdout, ExporterOTLP.
	Exporter string

	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string

	// Writer receives stdout spans. Nil uses os.Stdout.
	Writer io.Writer
}

// Setup installs a tracer provider and W3C propagators globally.
//
// Description:
//
//	With ExporterNone the global no-op provider is kept and only the
//	propagators are installed, so incoming trace headers still flow into
//	request contexts. The OTLP exporter reads its endpoint from the standard
//	OTEL_EXPORTER_OTLP_* environment variables.
//
// Inputs:
//
//	ctx - Used while constructing the exporter.
//	opts - Exporter selection.
//
// Outputs:
//
//	ShutdownFunc - Flushes pending spans. Never nil.
//	error - ErrUnknownExporter or an exporter construction failure.
func Setup(ctx context.Context, opts Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch opts.Exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		exp, err = otlptracegrpc.New(ctx)
	default:
		return func(context.Context) error { return nil }, fmt.Errorf("%w: %q", ErrUnknownExporter, opts.Exporter)
	}
	if err != nil {
		return func(context.Context) error { return nil }, fmt.Errorf("creating %s exporter: %w", opts.Exporter, err)
	}

	name := opts.ServiceName
	if name == "" {
		name = "codenav"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
