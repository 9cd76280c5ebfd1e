package httpserver

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/healthmetrix/recontact-service/internal/observability"
)

// CitizenHeader carries the id of the citizen a message request acts for.
const CitizenHeader = "X-Recontact-Citizen-Id"

type contextKey string

const ctxKeyCitizenID contextKey = "citizen_id"

// citizenMiddleware requires the citizen header and stores its value in the
// request context.
func citizenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		citizenID := strings.TrimSpace(r.Header.Get(CitizenHeader))
		if citizenID == "" {
			writeError(w, http.StatusBadRequest, CitizenHeader+" header is required")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyCitizenID, citizenID)
		ctx = observability.WithCitizenID(ctx, citizenID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// correlationIDMiddleware ensures every request has a correlation ID.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = middleware.GetReqID(r.Context())
		}
		if correlationID == "" {
			buf := make([]byte, 8)
			if _, err := rand.Read(buf); err != nil {
				// Fallback to timestamp-based ID if crypto/rand fails.
				correlationID = fmt.Sprintf("%x", time.Now().UnixNano())
			} else {
				correlationID = fmt.Sprintf("%x", buf)
			}
		}

		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := observability.WithCorrelationID(r.Context(), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// citizenIDFromContext extracts the citizen id from the request context.
func citizenIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyCitizenID).(string); ok {
		return v
	}
	return ""
}
