package config

import (
	"fmt"
	"net/url"
	"strings"

	"leadscout-engine/internal/domain"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

func (v Validation) Error() string {
	return "config validation failed:\n- " + strings.Join(v.Errors, "\n- ")
}

func trimList(xs []string) []string {
	seen := map[string]bool{}
	var ys []string
	for _, x := range xs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		key := strings.ToLower(x)
		if seen[key] {
			continue
		}
		seen[key] = true
		ys = append(ys, x)
	}
	return ys
}

// NormalizeAndValidate returns a normalized copy of cfg and the problems found.
// Government keywords keep their trailing spaces ("city of ") since those
// are part of the match.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	out := cfg
	out.Taxonomy = append([]domain.Service(nil), cfg.Taxonomy...)
	out.Sources = append([]Source(nil), cfg.Sources...)
	var res Validation

	out.Keywords.Intent = trimList(out.Keywords.Intent)
	out.Keywords.Sector = trimList(out.Keywords.Sector)
	gov := out.Keywords.Government[:0:0]
	for _, k := range out.Keywords.Government {
		if strings.TrimSpace(k) != "" {
			gov = append(gov, strings.ToLower(k))
		}
	}
	out.Keywords.Government = gov

	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}
	switch strings.ToLower(out.App.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		res.addErr("app.log_level must be one of debug, info, warn, error")
	}

	if out.Scrape.IntervalMinutes <= 0 {
		res.addErr("scrape.interval_minutes must be > 0")
	} else if out.Scrape.IntervalMinutes < 15 {
		res.addWarn("scrape.interval_minutes is very low (%d) and may hit source rate limits.", out.Scrape.IntervalMinutes)
	}
	if out.Scrape.RunTimeoutMinutes <= 0 {
		res.addErr("scrape.run_timeout_minutes must be > 0")
	}
	if out.Scrape.FetchWorkers < 1 || out.Scrape.FetchWorkers > 32 {
		res.addErr("scrape.fetch_workers must be 1..32")
	}
	if out.Scrape.MaxResultsPerSource < 1 {
		res.addErr("scrape.max_results_per_source must be >= 1")
	}

	q := out.Qualification
	if q.ConfidenceThreshold < 0 || q.ConfidenceThreshold > 1 {
		res.addErr("qualification.confidence_threshold must be within [0,1]")
	}
	if q.MaxRetries < 0 || q.MaxRetries > 5 {
		res.addErr("qualification.max_retries must be 0..5")
	}
	if q.TimeoutSeconds <= 0 {
		res.addErr("qualification.timeout_seconds must be > 0")
	}
	if q.Concurrency < 1 {
		res.addErr("qualification.concurrency must be >= 1")
	}
	if q.MaxTokens < 128 {
		res.addWarn("qualification.max_tokens is %d; structured answers may be cut off.", q.MaxTokens)
	}
	if strings.TrimSpace(q.Model) == "" && out.QualificationEnabled() {
		res.addErr("qualification.model is required when qualification is enabled")
	}

	if len(out.Taxonomy) == 0 {
		res.addErr("taxonomy must list at least one service")
	}
	ids := map[string]bool{}
	for i, s := range out.Taxonomy {
		s.ID = strings.TrimSpace(s.ID)
		out.Taxonomy[i].ID = s.ID
		if s.ID == "" {
			res.addErr("taxonomy[%d].id is required", i)
			continue
		}
		if ids[s.ID] {
			res.addErr("taxonomy id %q is duplicated", s.ID)
		}
		ids[s.ID] = true
	}

	names := map[string]bool{}
	active := 0
	for i := range out.Sources {
		s := &out.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.URL = strings.TrimSpace(s.URL)
		if s.Name == "" {
			res.addErr("sources[%d].name is required", i)
		} else if names[strings.ToLower(s.Name)] {
			res.addErr("source name %q is duplicated", s.Name)
		}
		names[strings.ToLower(s.Name)] = true

		if s.Type != "" && !s.Type.Valid() {
			res.addErr("sources[%d].type %q is not a known source type", i, s.Type)
		}
		needsURL := s.Type != domain.SourceGrantsGov && s.Type != domain.SourceProPublica && s.Type != domain.SourceEmailAlert
		if needsURL {
			if s.URL == "" {
				res.addErr("sources[%d] (%s) needs a url", i, s.Name)
			} else if u, err := url.Parse(s.URL); err != nil || u.Host == "" {
				res.addErr("sources[%d] (%s) url %q is not absolute", i, s.Name, s.URL)
			}
		}
		if s.FrequencyMinutes < 0 {
			res.addErr("sources[%d].frequency_minutes must be >= 0", i)
		}
		if s.Type == domain.SourceEmailAlert && !out.Email.Enabled {
			res.addWarn("source %q is an email alert source but email.enabled is false", s.Name)
		}
		if s.IsEnabled() {
			active++
		}
	}
	if active == 0 {
		res.addWarn("no sources are enabled; runs will do nothing")
	}

	if out.Email.Enabled && (out.Email.IMAPHost == "" || out.Email.Username == "") {
		res.addErr("email.imap_host and email.username are required when email is enabled")
	}

	return out, res
}
