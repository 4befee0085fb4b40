package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"modelgate/pkg/api"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	h := NewHealthHandler("Qwen/Qwen2.5-0.5B-Instruct-GGUF")

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp api.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if resp.ModelRepo != "Qwen/Qwen2.5-0.5B-Instruct-GGUF" {
		t.Fatalf("unexpected model repo %q", resp.ModelRepo)
	}
}
