package handlers

import (
	"encoding/json"
	"net/http"

	"modelgate/pkg/api"
)

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends the standard error envelope.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, api.ErrorResponse{
		Error: api.ErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}
