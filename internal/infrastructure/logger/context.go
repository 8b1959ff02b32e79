package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// contextKey is a type for context keys used by the logger package
type contextKey string

const (
	// LoggerKey is the gin context key for the request scoped logger
	LoggerKey contextKey = "logger"
	// RunIDKey is the context key for the publish run id
	RunIDKey contextKey = "run_id"
	// TriggerKey is the context key for what started the run (cron, api, cli)
	TriggerKey contextKey = "trigger"
	// RequestIDKey is the context key for an ops API request id
	RequestIDKey contextKey = "request_id"
)

func withValue(ctx context.Context, logger *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	return context.WithValue(ctx, key, value), logger.With(zap.String(string(key), value))
}

// WithRunID adds the publish run id to context and returns an enriched logger
func WithRunID(ctx context.Context, logger *zap.Logger, runID string) (context.Context, *zap.Logger) {
	return withValue(ctx, logger, RunIDKey, runID)
}

// WithTrigger records what started the run
func WithTrigger(ctx context.Context, logger *zap.Logger, trigger string) (context.Context, *zap.Logger) {
	return withValue(ctx, logger, TriggerKey, trigger)
}

// WithRequestID adds request ID to context and returns enriched logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return withValue(ctx, logger, RequestIDKey, requestID)
}

// contextFields returns the identifiers carried by ctx as log fields
func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, key := range []contextKey{RunIDKey, TriggerKey, RequestIDKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	return fields
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string { return stringValue(ctx, RequestIDKey) }

// WithTraceContext adds trace_id and span_id to the logger from the context's span.
// If no valid span exists, returns the original logger unchanged.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}
