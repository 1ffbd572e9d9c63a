// Package scrape wires source adapters to source types.
package scrape

import (
	"log/slog"
	"maps"
	"slices"

	"leadscout-engine/internal/config"
	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/email"
	"leadscout-engine/internal/scrape/grantsgov"
	"leadscout-engine/internal/scrape/propublica"
	"leadscout-engine/internal/scrape/rss"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/scrape/util"
	"leadscout-engine/internal/scrape/webpage"
)

// Registry maps a source type to the adapter that fetches it.
type Registry struct {
	adapters map[domain.SourceType]types.Adapter
	enricher types.Enricher
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[domain.SourceType]types.Adapter{}}
}

func (r *Registry) Register(t domain.SourceType, a types.Adapter) {
	r.adapters[t] = a
}

func (r *Registry) Adapter(t domain.SourceType) (types.Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// Types lists registered source types in sorted order.
func (r *Registry) Types() []domain.SourceType {
	return slices.Sorted(maps.Keys(r.adapters))
}

func (r *Registry) SetEnricher(e types.Enricher) { r.enricher = e }

// Enricher returns the organisation enricher, or nil when none is configured.
func (r *Registry) Enricher() types.Enricher { return r.enricher }

// Deps are the collaborators Build needs beyond the config itself.
type Deps struct {
	Logger         *slog.Logger
	IMAPPassword   email.PasswordFunc
	ProPublicaBase string
}

// Build constructs the adapter set for cfg. Every source type gets an
// adapter except email_alert, which needs email.enabled. The ProPublica
// client doubles as enricher once a propublica source is configured.
func Build(cfg config.Config, deps Deps) *Registry {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	opts := types.Options{
		Limiter:    util.NewHostLimiter(cfg.Scrape.RequestsPerSecond, cfg.Scrape.Burst),
		UserAgent:  cfg.Scrape.UserAgent,
		MaxResults: cfg.Scrape.MaxResultsPerSource,
		Logger:     log.With("component", "scrape"),
	}.WithDefaults()

	r := NewRegistry()
	feeds := rss.New(opts)
	r.Register(domain.SourceRSSRFP, feeds)
	r.Register(domain.SourceRSSNews, feeds)
	r.Register(domain.SourceGrantsGov, grantsgov.New(opts))
	r.Register(domain.SourceWebScrape, webpage.New(opts))

	pp := propublica.New(opts, deps.ProPublicaBase)
	r.Register(domain.SourceProPublica, pp)
	if hasSourceType(cfg, domain.SourceProPublica) {
		r.SetEnricher(pp)
	}

	if cfg.Email.Enabled {
		srv := email.Server{
			Host:     cfg.Email.IMAPHost,
			Port:     cfg.Email.IMAPPort,
			Username: cfg.Email.Username,
			Mailbox:  cfg.Email.Mailbox,
		}
		r.Register(domain.SourceEmailAlert, email.New(srv, deps.IMAPPassword, opts))
	}
	return r
}

func hasSourceType(cfg config.Config, t domain.SourceType) bool {
	for _, s := range cfg.Sources {
		if s.IsEnabled() && s.Type == t {
			return true
		}
	}
	return false
}

// SourcesFromConfig converts configured sources into rows for
// source_configs. A missing type is inferred from the feed URL and a
// missing frequency falls back to the global scrape interval.
func SourcesFromConfig(cfg config.Config) []domain.SourceConfig {
	out := make([]domain.SourceConfig, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sc := domain.SourceConfig{
			Name:             s.Name,
			Type:             s.Type,
			URL:              s.URL,
			Active:           s.IsEnabled(),
			FrequencyMinutes: s.FrequencyMinutes,
			Config:           map[string]any{},
		}
		maps.Copy(sc.Config, s.Config)
		if sc.Type == "" {
			sc.Type = rss.ClassifyFeedURL(s.URL)
		}
		if sc.Name == "" {
			sc.Name = rss.SourceNameFromURL(s.URL)
		}
		if sc.FrequencyMinutes == 0 {
			sc.FrequencyMinutes = cfg.Scrape.IntervalMinutes
		}
		if sc.Type == domain.SourceEmailAlert {
			if _, ok := sc.Config["since_days"]; !ok && cfg.Email.SinceDays > 0 {
				sc.Config["since_days"] = cfg.Email.SinceDays
			}
			if _, ok := sc.Config["mark_seen"]; !ok {
				sc.Config["mark_seen"] = cfg.Email.MarkSeen
			}
		}
		if cfg.Scrape.Enrich {
			if _, ok := sc.Config["enrich"]; !ok {
				sc.Config["enrich"] = true
			}
		}
		out = append(out, sc)
	}
	return out
}
