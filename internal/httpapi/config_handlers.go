package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"

	"leadscout-engine/internal/config"
)

type ConfigHandler struct {
	CfgVal      *atomic.Value // stores config.Config
	UserCfgPath string
	LoadCfg     func() (config.Config, error)
	OnConfig    func(ctx context.Context, cfg config.Config) error
	Log         *slog.Logger
}

func (h ConfigHandler) current() config.Config {
	if cfg, ok := h.CfgVal.Load().(config.Config); ok {
		return cfg
	}
	return config.Default()
}

func (h ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.current())
}

func (h ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := decodeJSON(w, r, &incoming); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	normalized, vr := config.NormalizeAndValidate(incoming)
	if !vr.OK() {
		WriteJSON(w, http.StatusBadRequest, vr)
		return
	}

	if err := config.SaveAtomic(h.UserCfgPath, normalized); err != nil {
		WriteError(w, r, http.StatusBadRequest, "save_failed", err.Error())
		return
	}

	saved, err := h.LoadCfg()
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "reload_failed", "saved but reload failed: "+err.Error())
		return
	}
	h.CfgVal.Store(saved)
	if h.OnConfig != nil {
		if err := h.OnConfig(r.Context(), saved); err != nil {
			h.Log.Error("apply config", "request_id", RequestIDFrom(r.Context()), "err", err)
			WriteError(w, r, http.StatusInternalServerError, "apply_failed", err.Error())
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"config": saved, "warnings": vr.Warnings})
}

func (h ConfigHandler) Path(w http.ResponseWriter, r *http.Request) {
	abs, _ := filepath.Abs(h.UserCfgPath)
	WriteJSON(w, http.StatusOK, map[string]any{"path": abs})
}

func (h ConfigHandler) Validate(w http.ResponseWriter, r *http.Request) {
	_, vr := config.NormalizeAndValidate(h.current())
	WriteJSON(w, http.StatusOK, vr)
}
