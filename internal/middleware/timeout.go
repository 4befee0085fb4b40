package middleware

import (
	"bytes"
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"modelgate/pkg/logging"
)

// Timeout bounds a request to d and answers 504 once the deadline passes.
// The handler runs against a buffered response writer in its own
// goroutine: on timeout the client gets the 504 immediately while the
// handler keeps computing until it notices the cancelled context, and its
// late output is discarded.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			buf := newBufferedResponse()
			done := make(chan struct{})

			go func() {
				// Recover here as well: the outer Recoverer cannot see
				// panics raised in this goroutine.
				defer func() {
					if rec := recover(); rec != nil {
						logging.L(ctx).Error("panic recovered",
							zap.Any("error", rec),
							zap.ByteString("stack", debug.Stack()),
						)
						buf.reset(http.StatusInternalServerError,
							`{"error":{"message":"internal server error","type":"internal_error"}}`)
					}
					close(done)
				}()
				next.ServeHTTP(buf, r.WithContext(ctx))
			}()

			select {
			case <-done:
				buf.flushTo(w)
			case <-ctx.Done():
				logging.L(ctx).Warn("request timed out", zap.Duration("timeout", d))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				_, _ = w.Write([]byte(`{"error":{"message":"request timed out","type":"timeout_error"}}`))
			}
		})
	}
}

// bufferedResponse holds a handler's full response until it is known
// whether the deadline beat it.
type bufferedResponse struct {
	header      http.Header
	code        int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), code: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.code = code
	b.wroteHeader = true
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedResponse) reset(code int, body string) {
	b.header = make(http.Header)
	b.header.Set("Content-Type", "application/json")
	b.code = code
	b.wroteHeader = true
	b.body.Reset()
	b.body.WriteString(body)
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	for k, vv := range b.header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.code)
	_, _ = w.Write(b.body.Bytes())
}
