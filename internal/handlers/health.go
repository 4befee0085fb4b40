package handlers

import (
	"net/http"

	"modelgate/pkg/api"
)

// HealthHandler reports gateway liveness. It answers as soon as the HTTP
// server is up, which by construction is after the model runtime passed
// its own health check.
type HealthHandler struct {
	ModelRepo string
}

func NewHealthHandler(modelRepo string) *HealthHandler {
	return &HealthHandler{ModelRepo: modelRepo}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "ok",
		ModelRepo: h.ModelRepo,
	})
}
