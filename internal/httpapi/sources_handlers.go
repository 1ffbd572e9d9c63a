package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/store"
)

type SourcesHandler struct {
	Store          *store.DB
	SourceStatuses func() []types.SourceStatus
	Log            *slog.Logger
}

type sourceView struct {
	domain.SourceConfig
	LastRun *types.SourceStatus `json:"last_run,omitempty"`
}

func (h SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	srcs, err := h.Store.ListSourceConfigs(r.Context())
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	byName := map[string]types.SourceStatus{}
	if h.SourceStatuses != nil {
		for _, st := range h.SourceStatuses() {
			byName[st.Source] = st
		}
	}
	out := make([]sourceView, 0, len(srcs))
	for _, s := range srcs {
		v := sourceView{SourceConfig: s}
		if st, ok := byName[s.Name]; ok {
			v.LastRun = &st
		}
		out = append(out, v)
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h SourcesHandler) Patch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var p store.SourcePatch
	if err := decodeJSON(w, r, &p); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if p.Active == nil && p.FrequencyMinutes == nil {
		WriteError(w, r, http.StatusBadRequest, "empty_patch", "is_active or scrape_frequency_minutes is required")
		return
	}
	if p.FrequencyMinutes != nil && *p.FrequencyMinutes < 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_frequency", "scrape_frequency_minutes must be >= 0")
		return
	}
	s, err := h.Store.UpdateSourceConfig(r.Context(), name, p)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, s)
}
