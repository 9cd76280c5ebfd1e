package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDContext(t *testing.T) {
	t.Run("stores and retrieves correlation ID", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "corr-123")
		assert.Equal(t, "corr-123", CorrelationIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", CorrelationIDFromContext(context.Background()))
	})
}

func TestCitizenIDContext(t *testing.T) {
	t.Run("stores and retrieves citizen ID", func(t *testing.T) {
		ctx := WithCitizenID(context.Background(), "citizen-a")
		assert.Equal(t, "citizen-a", CitizenIDFromContext(ctx))
	})

	t.Run("ignores values of another type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), citizenIDKey, 42)
		assert.Equal(t, "", CitizenIDFromContext(ctx))
	})

	t.Run("keeps keys independent", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "corr-1")
		ctx = WithCitizenID(ctx, "citizen-b")
		assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
		assert.Equal(t, "citizen-b", CitizenIDFromContext(ctx))
	})
}
