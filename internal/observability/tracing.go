// Package observability provides OpenTelemetry tracing, Prometheus-style
// metrics and structured logging for codelens.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// TracerName names the tracer every codelens span comes from.
const TracerName = "github.com/efebarandurmaz/codelens"

// TracingConfig configures span export. An empty OTLPEndpoint disables
// export; spans are still created against the global no-op provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // host:port of an OTLP gRPC collector
	SampleRate     float64 // fraction of traces kept, clamped to [0, 1]
}

func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "codelens",
		ServiceVersion: "dev",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider owns the SDK provider when export is enabled.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a batching OTLP exporter as the global tracer
// provider. With no endpoint it returns a provider backed by the global
// no-op tracer.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName+"/"+cfg.ServiceVersion)),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := serviceResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

func serviceResource(cfg *TracingConfig) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans. It is a no-op when export is disabled.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Values of the codelens.span.kind attribute.
const (
	SpanKindFetch    = "fetch"
	SpanKindAssemble = "assemble"
	SpanKindView     = "view"
	SpanKindPersist  = "persist"
)

func startSpan(ctx context.Context, name, kind string, sk trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("codelens.span.kind", kind))
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithSpanKind(sk), trace.WithAttributes(attrs...))
}

// StartFetchSpan starts the span of one metric request.
func StartFetchSpan(ctx context.Context, repoID, metric string) (context.Context, trace.Span) {
	return startSpan(ctx, "metrics.fetch", SpanKindFetch, trace.SpanKindClient,
		attribute.String("codelens.repo", repoID),
		attribute.String("metric.name", metric),
	)
}

// RecordFetchResult annotates a fetch span. A failure is recorded as an
// event only: the payload falls back to its empty default and the build
// goes on, so the span status stays unset.
func RecordFetchResult(span trace.Span, status, size int, duration time.Duration, err error) {
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int("metric.bytes", size),
		attribute.Int64("metric.duration_ms", duration.Milliseconds()),
		attribute.Bool("metric.defaulted", err != nil),
	)
	if err != nil {
		span.RecordError(err)
	}
}

func StartAssembleSpan(ctx context.Context, repoID string) (context.Context, trace.Span) {
	return startSpan(ctx, "graph.assemble", SpanKindAssemble, trace.SpanKindInternal,
		attribute.String("codelens.repo", repoID),
	)
}

func RecordAssembleResult(span trace.Span, nodes, links, unresolved, missing int) {
	span.SetAttributes(
		attribute.Int("graph.nodes", nodes),
		attribute.Int("graph.links", links),
		attribute.Int("graph.unresolved", unresolved),
		attribute.Int("graph.missing_metrics", missing),
	)
}

// StartViewSpan starts the span of one view transition (expand, collapse,
// pin and so on).
func StartViewSpan(ctx context.Context, viewID, op, nodeID string) (context.Context, trace.Span) {
	return startSpan(ctx, "view.transition", SpanKindView, trace.SpanKindInternal,
		attribute.String("view.id", viewID),
		attribute.String("view.op", op),
		attribute.String("view.node", nodeID),
	)
}

func RecordViewResult(span trace.Span, visibleNodes, visibleLinks int) {
	span.SetAttributes(
		attribute.Int("view.visible_nodes", visibleNodes),
		attribute.Int("view.visible_links", visibleLinks),
	)
}

// StartPersistSpan starts a graph store span named graph.<op>.
func StartPersistSpan(ctx context.Context, repoID, op string) (context.Context, trace.Span) {
	return startSpan(ctx, "graph."+op, SpanKindPersist, trace.SpanKindClient,
		attribute.String("codelens.repo", repoID),
	)
}

// RecordError marks span failed with err; nil is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
