package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	citizenIDKey     contextKey = "citizen_id"
)

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID from context.
// Returns empty string if not present.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithCitizenID adds the calling citizen to the context.
func WithCitizenID(ctx context.Context, citizenID string) context.Context {
	return context.WithValue(ctx, citizenIDKey, citizenID)
}

// CitizenIDFromContext retrieves the calling citizen from context.
// Returns empty string if not present.
func CitizenIDFromContext(ctx context.Context) string {
	return stringValue(ctx, citizenIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
