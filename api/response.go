package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/recallio/recall/internal/embed"
	"github.com/recallio/recall/internal/store"
)

// writeJSON writes a JSON response with the given status code.
// Note: If encoding fails after WriteHeader is called, there's no way to
// notify the client since the status code is already sent. The error is
// logged for debugging but doesn't affect the response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeDomainError maps sentinel errors to HTTP statuses. Anything
// unmapped is a 500 with a generic message so internals never leak.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "session does not exist")
	case errors.Is(err, store.ErrSessionExpired):
		writeError(w, http.StatusGone, "session_expired", "session has expired")
	case errors.Is(err, store.ErrSessionFull):
		writeError(w, http.StatusConflict, "session_full", "session message limit reached")
	case errors.Is(err, store.ErrEmptyContent), errors.Is(err, embed.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "empty_content", "message content must not be blank")
	case errors.Is(err, store.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "invalid_role", "role must be user or assistant")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
