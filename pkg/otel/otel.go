package otel

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
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config describes where pipeline traces go and how many are kept.
type Config struct {
	ServiceName       string
	ServiceVersion    string
	Environment       string
	CollectorEndpoint string
	SamplingRate      float64 // fraction of traces kept; 1.0 keeps all
}

// DefaultConfig samples everything and targets a local collector.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:       serviceName,
		ServiceVersion:    "1.0.0",
		Environment:       "production",
		CollectorEndpoint: "localhost:4317",
		SamplingRate:      1.0,
	}
}

// InitTracer wires a batched OTLP/gRPC exporter and installs it as the global
// tracer provider, so the orchestrator's spans need no plumbing beyond this
// call at startup.
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("quantum-intel")
	}

	// Collector sits on localhost or the pod network; TLS terminates there.
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.CollectorEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes buffered spans, bounded to ten seconds. Safe on a nil
// provider so callers can shut down unconditionally.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return tp.Shutdown(ctx)
}

// StartSpan opens a span on the named tracer, attaching any attributes.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError marks the span failed. The message, when non-empty, lands as an
// error.message attribute next to the recorded error.
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}
	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent attaches a point-in-time event to the span, used for outcomes that
// are not errors (cache hits, shadow-mode skips).
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for the pipeline.
const (
	AttrSubjectID   = attribute.Key("subject.id")
	AttrTier        = attribute.Key("card.tier")
	AttrUncertainty = attribute.Key("state.uncertainty")
	AttrDominant    = attribute.Key("state.dominant_category")
	AttrAnomalies   = attribute.Key("anomaly.count")
	AttrCacheHit    = attribute.Key("cache.hit")
	AttrShadowMode  = attribute.Key("pipeline.shadow_mode")
	AttrLatencyMs   = attribute.Key("latency.ms")
)

// AnalysisAttributes builds the span attributes for a completed analysis.
func AnalysisAttributes(subjectID, dominant string, uncertainty float64, anomalyCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSubjectID.String(subjectID),
		AttrDominant.String(dominant),
		AttrUncertainty.Float64(uncertainty),
		AttrAnomalies.Int(anomalyCount),
	}
}
