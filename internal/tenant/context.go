package tenant

import (
	"context"
)

// Context key accessors shared by the HTTP server and MCP server. Both
// populate a Scope during auth and read it in handlers; keeping the keys
// here avoids a circular import between the two packages.

type contextKey string

const (
	keyScope     contextKey = "scope"
	keyRequestID contextKey = "request_id"
)

// WithScope returns a new context carrying the resolved scope.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, keyScope, s)
}

// FromContext extracts the scope from the context.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(keyScope).(Scope)
	return s, ok
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request id from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
