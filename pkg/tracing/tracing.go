package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "streamrelay"

var (
	ConnectionIDKey = attribute.Key("signal.connection_id")
	MessageTypeKey  = attribute.Key("signal.message_type")
	TargetIDKey     = attribute.Key("signal.target_id")
	StableIDKey     = attribute.Key("registry.stable_id")
	OperationKey    = attribute.Key("operation")
	DurationMsKey   = attribute.Key("duration_ms")
)

type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	Environment string
	JaegerURL   string
	// SampleRate is the fraction of new traces kept. Child spans follow
	// their parent's decision.
	SampleRate float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "streamrelay",
		Version:     "dev",
		Environment: "development",
		JaegerURL:   "http://localhost:14268/api/traces",
		SampleRate:  1.0,
	}
}

// Provider owns the SDK tracer provider installed by Init. A disabled
// Provider is a no-op and leaves the global otel provider untouched.
type Provider struct {
	sdk *tracesdk.TracerProvider
}

// Init exports spans to Jaeger and installs the W3C trace context
// propagator.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	sdk := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// MeasureDuration tags the span in ctx with the time elapsed since start.
func MeasureDuration(ctx context.Context, start time.Time, operation string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		OperationKey.String(operation),
		DurationMsKey.Int64(time.Since(start).Milliseconds()),
	)
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http "+method+" "+route,
		semconv.HTTPMethodKey.String(method),
		semconv.HTTPRouteKey.String(route),
	)
}

func TraceSignalMessage(ctx context.Context, messageType, connectionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signal."+messageType,
		MessageTypeKey.String(messageType),
		ConnectionIDKey.String(connectionID),
	)
}

func TraceRegistryOperation(ctx context.Context, operation, stableID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "registry."+operation,
		OperationKey.String(operation),
		StableIDKey.String(stableID),
	)
}

func TraceDial(ctx context.Context, localID, targetID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "discovery.dial",
		ConnectionIDKey.String(localID),
		TargetIDKey.String(targetID),
	)
}
