// Package telemetry wires OpenTelemetry tracing and Pyroscope profiling
// for collection runs. Until Init enables export, every span is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/marmos91/stategc"

// shutdownTimeout bounds the final span flush.
const shutdownTimeout = 5 * time.Second

type provider struct {
	tracer  trace.Tracer
	enabled bool
}

var current atomic.Pointer[provider]

func init() {
	reset()
}

func reset() {
	current.Store(&provider{tracer: noop.NewTracerProvider().Tracer(instrumentationName)})
}

// Shutdown flushes pending spans and stops export.
type Shutdown func(context.Context) error

// Init starts exporting spans to the OTLP collector in cfg. When cfg is
// disabled the returned Shutdown does nothing.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if !cfg.Enabled {
		reset()
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Use(tp)

	return func(ctx context.Context) error {
		defer reset()
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// Use makes tp the source of every span started by this package.
func Use(tp trace.TracerProvider) {
	current.Store(&provider{tracer: tp.Tracer(instrumentationName), enabled: true})
}

// Tracer returns the active tracer, a no-op one when tracing is off.
func Tracer() trace.Tracer {
	return current.Load().tracer
}

// IsEnabled reports whether spans are being recorded.
func IsEnabled() bool {
	return current.Load().enabled
}

// StartSpan starts a span; the caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError marks the span in ctx as failed with err. A nil err is a
// no-op.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the span ID of the span in ctx, or "".
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}
