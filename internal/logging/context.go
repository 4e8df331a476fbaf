package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type repoCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if ids := RepoIDsFromContext(ctx); len(ids) > 0 {
		fields = append(fields, zap.Strings("repo_ids", ids))
	}
	return fields
}

// WithRequestID stores a request id in ctx. Ids longer than 128 bytes or
// containing characters outside [A-Za-z0-9_.-] are dropped, since they
// usually arrive from client headers.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if len(requestID) > maxIDLen || !idPattern.MatchString(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRepoIDs stores the repositories an operation targets.
func WithRepoIDs(ctx context.Context, repoIDs []string) context.Context {
	if len(repoIDs) == 0 {
		return ctx
	}
	ids := append([]string(nil), repoIDs...)
	return context.WithValue(ctx, repoCtxKey{}, ids)
}

// RepoIDsFromContext returns the repository ids stored in ctx.
func RepoIDsFromContext(ctx context.Context) []string {
	if ids, ok := ctx.Value(repoCtxKey{}).([]string); ok {
		return ids
	}
	return nil
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop()}
}
