package api

import "context"

// ContextKey keys request-scoped values shared by the daemon middleware
// and the error writer
type ContextKey string

// RequestIDKey holds the correlation ID of the current request
const RequestIDKey ContextKey = "correlation_id"

// WithRequestID returns ctx carrying id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the correlation ID stored in ctx, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
