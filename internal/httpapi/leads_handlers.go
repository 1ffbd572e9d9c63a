package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/events"
	"leadscout-engine/internal/store"
)

type LeadsHandler struct {
	Store *store.DB
	Hub   *events.Hub
	Log   *slog.Logger
}

func (h LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListLeadsOpts{
		Status:     strings.TrimSpace(q.Get("status")),
		SourceType: strings.TrimSpace(q.Get("source_type")),
		Search:     q.Get("search"),
		SortBy:     strings.TrimSpace(q.Get("sort_by")),
		SortOrder:  strings.ToLower(strings.TrimSpace(q.Get("sort_order"))),
	}
	var err error
	if opts.Page, err = intParam(q, "page", 1); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if opts.PageSize, err = intParam(q, "page_size", store.DefaultPageSize); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if opts.MinConfidence, err = floatParam(q, "min_confidence"); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if opts.IncludeGovernment, err = boolParam(q, "include_government"); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	switch {
	case opts.Page < 1:
		WriteError(w, r, http.StatusBadRequest, "invalid_query", "page must be >= 1")
		return
	case opts.PageSize < 1 || opts.PageSize > store.MaxPageSize:
		WriteError(w, r, http.StatusBadRequest, "invalid_query", "page_size must be between 1 and 100")
		return
	case opts.MinConfidence != nil && (*opts.MinConfidence < 0 || *opts.MinConfidence > 1):
		WriteError(w, r, http.StatusBadRequest, "invalid_query", "min_confidence must be between 0 and 1")
		return
	case opts.SortBy != "" && !store.ValidLeadSort(opts.SortBy):
		WriteError(w, r, http.StatusBadRequest, "invalid_query", "unsupported sort_by "+opts.SortBy)
		return
	case opts.SortOrder != "" && opts.SortOrder != "asc" && opts.SortOrder != "desc":
		WriteError(w, r, http.StatusBadRequest, "invalid_query", "sort_order must be asc or desc")
		return
	case opts.SourceType != "" && !domain.SourceType(opts.SourceType).Valid():
		WriteError(w, r, http.StatusBadRequest, "invalid_query", "unknown source_type "+opts.SourceType)
		return
	}
	if opts.Status != "" {
		if _, err := domain.ParseLeadStatus(opts.Status); err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
	}

	page, err := h.Store.ListLeads(r.Context(), opts)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h LeadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	l, err := h.Store.GetLead(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, l)
}

type patchLeadReq struct {
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

func (h LeadsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	var req patchLeadReq
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Status == nil && req.Notes == nil {
		WriteError(w, r, http.StatusBadRequest, "empty_patch", "status or notes is required")
		return
	}

	var status domain.LeadStatus
	if req.Status != nil {
		st, err := domain.ParseLeadStatus(strings.TrimSpace(*req.Status))
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		status = st
	}

	l, err := h.Store.UpdateLeadStatus(r.Context(), id, status, req.Notes)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	if h.Hub != nil {
		h.Hub.Broadcast(events.MakeEvent(RequestIDFrom(r.Context()), events.LeadUpdated, map[string]any{
			"id":     l.ID,
			"status": l.Status,
		}))
	}
	WriteJSON(w, http.StatusOK, l)
}

type StatsHandler struct {
	Store *store.DB
	Log   *slog.Logger
}

func (h StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.Stats(r.Context(), time.Now())
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}
