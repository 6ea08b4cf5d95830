package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	RequestIDKey    contextKey = "request_id"
	ConnectionIDKey contextKey = "connection_id"
)

// ContextLogger tags log lines with the request, connection and trace ids
// carried by a context.
type ContextLogger struct {
	base *zap.SugaredLogger
}

func NewContextLogger(base *zap.SugaredLogger) *ContextLogger {
	if base == nil {
		base = zap.NewNop().Sugar()
	}
	return &ContextLogger{base: base}
}

// For returns the base logger with whatever ids ctx carries.
func (cl *ContextLogger) For(ctx context.Context) *zap.SugaredLogger {
	var kv []interface{}
	for _, key := range []contextKey{RequestIDKey, ConnectionIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			kv = append(kv, string(key), v)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		kv = append(kv, "trace_id", sc.TraceID().String())
	}

	if len(kv) == 0 {
		return cl.base
	}
	return cl.base.With(kv...)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConnectionIDKey, id)
}
