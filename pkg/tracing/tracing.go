// Package tracing provides OpenTelemetry tracing for fetch, ingestion and tool calls.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ServiceName = "citymap"
	TracerName  = "github.com/NERVsystems/citymap"
)

// Span names. Passes and tools append their own name to the prefix.
const (
	SpanFetch      = "overpass.fetch"
	SpanLoad       = "graph.load"
	SpanPassPrefix = "graph.pass."
	SpanToolPrefix = "mcp.tool."
	SpanHTTPRetry  = "http.request_factory"
)

// Tracer is replaced by Init; until then every span is a no-op.
var Tracer trace.Tracer = noop.NewTracerProvider().Tracer(TracerName)

// Config selects the exporter. An empty Endpoint disables export.
type Config struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	Environment string
}

// ConfigFromEnv reads OTLP_ENDPOINT, OTLP_INSECURE (default true),
// OTLP_SAMPLE_RATIO (default 1, ignored outside [0, 1]) and ENVIRONMENT.
func ConfigFromEnv() Config {
	cfg := Config{
		Endpoint:    os.Getenv("OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTLP_INSECURE") != "false",
		SampleRatio: 1,
		Environment: "development",
	}
	if v := os.Getenv("OTLP_SAMPLE_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	return cfg
}

// InitTracing is Init with ConfigFromEnv.
func InitTracing(ctx context.Context, version string) (shutdown func(context.Context) error, err error) {
	return Init(ctx, ConfigFromEnv(), version)
}

// Init installs a batching OTLP/gRPC tracer provider for cfg and returns its
// shutdown function. Without an endpoint the tracer stays a no-op.
func Init(ctx context.Context, cfg Config, version string) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		Tracer = noop.NewTracerProvider().Tracer(TracerName)
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version),
		attribute.String("service.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = tp.Tracer(TracerName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// StartFetch opens the span around one Overpass query.
func StartFetch(ctx context.Context, url string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, SpanFetch, trace.WithAttributes(
		attribute.String(AttrServiceName, ServiceOverpass),
		attribute.String(AttrServiceURL, url),
	))
}

// StartLoad opens the span around one ingestion of size bytes.
func StartLoad(ctx context.Context, ingestID string, size int) (context.Context, trace.Span) {
	return Tracer.Start(ctx, SpanLoad, trace.WithAttributes(
		attribute.String(AttrIngestID, ingestID),
		attribute.Int(AttrIngestBytes, size),
	))
}

// StartPass opens a child span for one builder pass.
func StartPass(ctx context.Context, pass string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, SpanPassPrefix+pass, trace.WithAttributes(
		attribute.String(AttrIngestPass, pass),
	))
}

// StartTool opens the span around one MCP tool call.
func StartTool(ctx context.Context, tool string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, SpanToolPrefix+tool, trace.WithAttributes(
		attribute.String(AttrMCPToolName, tool),
	))
}

// StartRetry opens the span around a retried HTTP request.
func StartRetry(ctx context.Context, maxAttempts int) (context.Context, trace.Span) {
	return Tracer.Start(ctx, SpanHTTPRetry, trace.WithAttributes(
		attribute.Int("http.retry.max_attempts", maxAttempts),
	))
}

// Fail marks span as failed. err may be nil when the failure is reported
// some other way, such as a tool error result; description then names it.
func Fail(span trace.Span, err error, description string) {
	if err != nil {
		span.RecordError(err)
		if description == "" {
			description = err.Error()
		}
	}
	span.SetStatus(codes.Error, description)
}

// Succeed marks span as ok.
func Succeed(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, opts...)
	}
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}
