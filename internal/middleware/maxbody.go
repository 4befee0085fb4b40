package middleware

import "net/http"

// MaxBody caps the request body at limit bytes. A non-positive limit
// leaves bodies unbounded. Reads past the cap surface as
// *http.MaxBytesError from the handler's decoder.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
