package httpapi

import (
	"net/http"
	"strings"
	"sync/atomic"

	"leadscout-engine/internal/config"
	"leadscout-engine/internal/secrets"
)

type SecretsHandler struct {
	CfgVal *atomic.Value // stores config.Config
	// OnLLMKey runs after the LLM key was stored or removed.
	OnLLMKey func()
}

type setLLMKeyReq struct {
	APIKey string `json:"api_key"`
}

func (h SecretsHandler) LLMKeyStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"configured": secrets.HasLLMKey()})
}

func (h SecretsHandler) SetLLMKey(w http.ResponseWriter, r *http.Request) {
	var req setLLMKeyReq
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		WriteError(w, r, http.StatusBadRequest, "missing_api_key", "api_key is required")
		return
	}
	if err := secrets.SetLLMKey(key); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "keyring_error", "failed to store key: "+err.Error())
		return
	}
	if h.OnLLMKey != nil {
		h.OnLLMKey()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SecretsHandler) DeleteLLMKey(w http.ResponseWriter, r *http.Request) {
	if err := secrets.DeleteLLMKey(); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "keyring_error", "failed to delete key: "+err.Error())
		return
	}
	if h.OnLLMKey != nil {
		h.OnLLMKey()
	}
	w.WriteHeader(http.StatusNoContent)
}

type setIMAPPasswordReq struct {
	Password string `json:"password"`
}

func (h SecretsHandler) SetIMAPPassword(w http.ResponseWriter, r *http.Request) {
	var req setIMAPPasswordReq
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	cfg, ok := h.CfgVal.Load().(config.Config)
	if !ok || cfg.Email.Username == "" || cfg.Email.IMAPHost == "" {
		WriteError(w, r, http.StatusBadRequest, "email_not_configured", "email.username and email.imap_host must be set first")
		return
	}
	if err := secrets.SetIMAPPassword(secrets.IMAPKeyringAccount(cfg), req.Password); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "keyring_error", "failed to store password: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SecretsHandler) DeleteIMAPPassword(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.CfgVal.Load().(config.Config)
	if !ok || cfg.Email.Username == "" || cfg.Email.IMAPHost == "" {
		WriteError(w, r, http.StatusBadRequest, "email_not_configured", "email.username and email.imap_host must be set first")
		return
	}
	if err := secrets.DeleteIMAPPassword(secrets.IMAPKeyringAccount(cfg)); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "keyring_error", "failed to delete password: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
