package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires every API route onto a chi router.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "http")

	r := chi.NewRouter()
	r.Use(RequestID, Recover(log), AccessLog(log), Cors)

	hh := HealthHandler{Store: d.Store, Runs: d.Runs}
	r.Get("/health", hh.Health)

	r.Route("/api", func(r chi.Router) {
		st := StatsHandler{Store: d.Store, Log: log}
		r.Get("/dashboard/stats", st.Dashboard)

		lh := LeadsHandler{Store: d.Store, Hub: d.Hub, Log: log}
		r.Get("/leads", lh.List)
		r.Get("/leads/{id}", lh.Get)
		r.Patch("/leads/{id}", lh.Patch)

		sch := ScrapeHandler{Store: d.Store, Runs: d.Runs, SourceStatuses: d.SourceStatuses, Log: log}
		r.Post("/scrape/run", sch.Run)
		r.Get("/scrape/status", sch.Status)
		r.Get("/scrape/history", sch.History)

		srh := SourcesHandler{Store: d.Store, SourceStatuses: d.SourceStatuses, Log: log}
		r.Get("/sources", srh.List)
		r.Patch("/sources/{name}", srh.Patch)

		ch := ConfigHandler{
			CfgVal:      d.CfgVal,
			UserCfgPath: d.UserCfgPath,
			LoadCfg:     d.LoadCfg,
			OnConfig:    d.OnConfig,
			Log:         log,
		}
		r.Get("/config", ch.Get)
		r.Put("/config", ch.Put)
		r.Get("/config/path", ch.Path)
		r.Get("/config/validate", ch.Validate)

		// Secrets read cfgVal on each request, never a startup snapshot.
		sh := SecretsHandler{CfgVal: d.CfgVal, OnLLMKey: d.OnLLMKey}
		r.Get("/secrets/llm", sh.LLMKeyStatus)
		r.Post("/secrets/llm", sh.SetLLMKey)
		r.Delete("/secrets/llm", sh.DeleteLLMKey)
		r.Post("/secrets/imap", sh.SetIMAPPassword)
		r.Delete("/secrets/imap", sh.DeleteIMAPPassword)

		eh := EventsHandler{Hub: d.Hub}
		r.Get("/events", eh.ServeSSE)

		dh := DBHandler{Store: d.Store, Log: log}
		r.Post("/db/checkpoint", dh.Checkpoint)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}
