package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/store"
)

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	WriteJSON(w, status, e)
}

// writeStoreError maps persistence and domain errors onto API errors.
func writeStoreError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		WriteError(w, r, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		WriteError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	default:
		log.Error("request failed", "request_id", RequestIDFrom(r.Context()), "path", r.URL.Path, "err", err)
		WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
