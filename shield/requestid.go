package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/viewtrans/idgen"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an ID, reusing a well-formed incoming
// X-Request-ID, and stores a logger carrying it in the context.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := idgen.Parse(r.Header.Get(RequestIDHeader))
			if err != nil {
				id = idgen.New()
			}
			w.Header().Set(RequestIDHeader, id)

			l := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), RequestIDKey, id)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
