package httpapi

import (
	"context"
	"net/http"
	"time"

	"leadscout-engine/internal/store"
)

type HealthHandler struct {
	Store *store.DB
	Runs  Runs
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{"ok": true, "db": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if h.Runs != nil {
		body["running"] = h.Runs.Status().Running
	}
	status := http.StatusOK
	if err := h.Store.Ping(ctx); err != nil {
		body["ok"] = false
		body["db"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, body)
}
