package httpapi

import (
	"encoding/json"
	"net/http"
)

// respondJSON writes v as pretty-printed JSON with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// errorBody is the shape of every non-2xx JSON response.
type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func respondError(w http.ResponseWriter, status int, message string, details any) {
	respondJSON(w, status, errorBody{Error: message, Details: details})
}
