package httpapi

import (
	"log/slog"
	"net"
	"net/http"

	"leadscout-engine/internal/store"
)

type DBHandler struct {
	Store *store.DB
	Log   *slog.Logger
}

// Checkpoint is reserved for callers on the loopback interface.
func (h DBHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		WriteError(w, r, http.StatusForbidden, "forbidden", "checkpoint is only available from localhost")
		return
	}
	if err := h.Store.Checkpoint(r.Context()); err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
