package handlers

import (
	"net/http"

	"modelgate/pkg/api"
)

// ModelsHandler handles GET /v1/models. The gateway serves exactly one
// model, the locally loaded weights, so the listing always has a single
// entry.
type ModelsHandler struct {
	Model string
}

func NewModelsHandler(model string) *ModelsHandler {
	return &ModelsHandler{Model: model}
}

// ListModels handles GET /v1/models.
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.ModelListResponse{
		Object: "list",
		Data: []api.ModelInfo{
			{ID: h.Model, Object: "model", OwnedBy: "local"},
		},
	})
}
