package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"modelgate/internal/handlers"
	"modelgate/pkg/api"
)

type stubCompleter struct {
	calls int
}

func (s *stubCompleter) Complete(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletionResponse, error) {
	s.calls++
	return &api.ChatCompletionResponse{
		ID:      "chatcmpl-0123456789ab",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   "tiny",
		Choices: []api.Choice{
			{Index: 0, Message: api.ChatMessage{Role: api.RoleAssistant, Content: "hi"}, FinishReason: "stop"},
		},
		Usage: api.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

func (s *stubCompleter) Model() string { return "tiny" }

func newTestRouter(t *testing.T, opts Options) (*chi.Mux, *stubCompleter) {
	t.Helper()

	svc := &stubCompleter{}
	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), opts, Handlers{
		Chat:   handlers.NewChatHandler(svc, nil, 0),
		Health: handlers.NewHealthHandler("org/tiny"),
		Models: handlers.NewModelsHandler("tiny"),
	})
	return r, svc
}

func TestRouterRoutes(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, Options{})

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/v1/models", "", http.StatusOK},
		{http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusOK},
		{http.MethodGet, "/v1/chat/completions", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		var body io.Reader
		if tt.body != "" {
			body = strings.NewReader(tt.body)
		}
		req := httptest.NewRequest(tt.method, tt.path, body)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != tt.status {
			t.Fatalf("%s %s: expected status %d, got %d", tt.method, tt.path, tt.status, rr.Code)
		}
	}

	if svc.calls != 1 {
		t.Fatalf("expected one completion call, got %d", svc.calls)
	}
}

func TestRouterHealthBody(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var resp api.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || resp.ModelRepo != "org/tiny" {
		t.Fatalf("unexpected health body: %+v", resp)
	}
}

func TestRouterCORS(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard CORS origin, got %q", got)
	}
}

func TestRouterBodyLimit(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, Options{MaxBodyBytes: 64})

	payload := `{"messages":[{"role":"user","content":"` + strings.Repeat("x", 512) + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("completer should not run on oversized input, got %d calls", svc.calls)
	}
}

func TestRouterRequestTimeout(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, Options{RequestTimeout: time.Second})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("fast request under a timeout should pass, got %d", rr.Code)
	}
}
