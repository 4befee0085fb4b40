package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"modelgate/pkg/logging"
)

// Recoverer turns a handler panic into a logged 500 instead of a dropped
// connection.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.L(r.Context()).Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stack", debug.Stack()),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":{"message":"internal server error","type":"internal_error"}}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
