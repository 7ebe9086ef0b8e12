package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

// CorrelationKey is the context key for the request's correlation id.
const CorrelationKey contextKey = "correlation_id"

// CorrelationHeader carries the correlation id in requests and responses.
const CorrelationHeader = "X-Correlation-Id"

// Correlation assigns every request a correlation id: the caller's
// X-Correlation-Id, else chi's request id, else a new uuid. The id is
// echoed in the response header and attached to error payloads.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = chimw.GetReqID(r.Context())
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CorrelationKey, id)))
	})
}

// GetCorrelationID returns the correlation id from context, or "".
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationKey).(string); ok {
		return v
	}
	return ""
}
