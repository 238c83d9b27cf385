package logger

import (
	"context"
)

// Logger is the structured logger shared by every taskcore component.
// Log methods take a message followed by alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds the given key-value pairs to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the invocation ID found in ctx, if any.
	WithContext(ctx context.Context) Logger
}

type invocationIDKey struct{}

// ContextWithInvocationID stores the invocation ID so WithContext can pick it up.
func ContextWithInvocationID(ctx context.Context, invocationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, invocationIDKey{}, invocationID)
}

// InvocationIDFromContext returns the invocation ID stored in ctx or "".
func InvocationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(invocationIDKey{}).(string); ok {
		return id
	}
	return ""
}
