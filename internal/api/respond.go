package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openmux/scrivener/internal/scene"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// respondJSON writes payload with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("api: encode response failed", "err", err)
	}
}

// respondError maps engine errors onto HTTP statuses. Unknown errors are
// logged and answered with a bare 500 so internals never leak.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, scene.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, scene.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, scene.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scene.ErrConflict), errors.Is(err, scene.ErrSceneClosed):
		status = http.StatusConflict
	default:
		slog.Error("api: request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	respondJSON(w, status, errorBody{Error: err.Error()})
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode request: %v", scene.ErrValidation, err)
	}
	return nil
}
