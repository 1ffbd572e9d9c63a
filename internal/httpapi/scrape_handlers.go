package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"leadscout-engine/internal/poll"
	"leadscout-engine/internal/scheduler"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/store"
)

const (
	defaultHistory = 20
	maxHistory     = 100
)

type ScrapeHandler struct {
	Store          *store.DB
	Runs           Runs
	SourceStatuses func() []types.SourceStatus
	Log            *slog.Logger
}

type scrapeStatus struct {
	scheduler.Status
	Sources []types.SourceStatus `json:"sources"`
}

func (h ScrapeHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := scrapeStatus{Status: h.Runs.Status(), Sources: []types.SourceStatus{}}
	if h.SourceStatuses != nil {
		st.Sources = h.SourceStatuses()
	}
	WriteJSON(w, http.StatusOK, st)
}

// Run starts a manual run over every active source, or over the sources
// named by repeated ?source= parameters. With ?wait=true the response is
// the finished run.
func (h ScrapeHandler) Run(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wait, err := boolParam(q, "wait")
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	ch, err := h.Runs.Trigger(r.Context(), poll.RunRequest{Manual: true, Sources: q["source"]})
	if errors.Is(err, scheduler.ErrRunInProgress) {
		WriteError(w, r, http.StatusConflict, "run_in_progress", "a scrape run is already in progress")
		return
	}
	if errors.Is(err, scheduler.ErrStopped) {
		WriteError(w, r, http.StatusServiceUnavailable, "shutting_down", "the engine is shutting down")
		return
	}
	if err != nil {
		h.Log.Error("trigger run", "request_id", RequestIDFrom(r.Context()), "err", err)
		WriteError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	if !wait {
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"accepted":   true,
			"status_url": "/api/scrape/status",
		})
		return
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			WriteJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{
					"code":       "run_failed",
					"message":    res.Err.Error(),
					"request_id": RequestIDFrom(r.Context()),
				},
				"run": res.Run,
			})
			return
		}
		WriteJSON(w, http.StatusOK, res.Run)
	case <-r.Context().Done():
	}
}

func (h ScrapeHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", defaultHistory)
	if err != nil || limit < 1 {
		WriteError(w, r, http.StatusBadRequest, "invalid_query", "limit must be a positive integer")
		return
	}
	limit = min(limit, maxHistory)

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}
