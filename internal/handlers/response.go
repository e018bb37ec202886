package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sdko-org/libproxy/internal/auth"
	"github.com/sdko-org/libproxy/internal/models"
	"github.com/sdko-org/libproxy/internal/policy"
	"github.com/sdko-org/libproxy/internal/store"
)

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("Failed to encode response")
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Field  string `json:"field,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses. Anything unmapped
// is logged and surfaced as an opaque 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *models.ValidationError
		denied *policy.DeniedError
	)

	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &denied):
		h.writeJSON(w, http.StatusForbidden, errorBody{Error: "Access denied", Reason: denied.Reason})
	case errors.Is(err, policy.ErrUnavailable):
		h.writeJSON(w, http.StatusForbidden, errorBody{Error: "Journal is not available"})
	case errors.Is(err, store.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	case errors.Is(err, store.ErrConflict):
		h.writeJSON(w, http.StatusConflict, errorBody{Error: "Conflict"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid credentials"})
	case errors.Is(err, auth.ErrInvalidToken):
		h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid or expired token"})
	default:
		h.log.WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return false
	}
	return true
}
