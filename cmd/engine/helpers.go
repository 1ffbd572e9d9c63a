package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"leadscout-engine/internal/config"
	"leadscout-engine/internal/qualify"
	"leadscout-engine/internal/scrape"
	"leadscout-engine/internal/secrets"
	"leadscout-engine/internal/store"
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// buildQualifier returns the model-backed qualifier, optionally behind the
// keyword prefilter, or Disabled when qualification is switched off.
func buildQualifier(cfg config.Config, log *slog.Logger) qualify.Qualifier {
	if !cfg.QualificationEnabled() {
		return qualify.Disabled{}
	}
	q := cfg.Qualification
	var out qualify.Qualifier = qualify.NewLLM(qualify.Options{
		BaseURL:        q.BaseURL,
		Model:          q.Model,
		MaxTokens:      q.MaxTokens,
		Timeout:        cfg.QualifyTimeout(),
		MaxRetries:     q.MaxRetries,
		Backoff:        time.Duration(q.RetryBackoffMS) * time.Millisecond,
		Concurrency:    q.Concurrency,
		RequestsPerSec: q.RequestsPerSecond,
		APIKey:         secrets.GetLLMKey,
		Logger:         log,
	})
	if q.Prefilter {
		out = qualify.Prefilter{
			Next: out,
			Keywords: qualify.Keywords{
				Intent:     cfg.Keywords.Intent,
				Sector:     cfg.Keywords.Sector,
				Government: cfg.Keywords.Government,
			},
		}
	}
	return out
}

// syncSources upserts the configured sources into source_configs.
func syncSources(ctx context.Context, db *store.DB, cfg config.Config) error {
	for _, s := range scrape.SourcesFromConfig(cfg) {
		if err := db.UpsertSourceConfig(ctx, s); err != nil {
			return fmt.Errorf("sync source %s: %w", s.Name, err)
		}
	}
	return nil
}

func imapPassword(cfg config.Config) func() (string, error) {
	acct := secrets.IMAPKeyringAccount(cfg)
	return func() (string, error) { return secrets.GetIMAPPassword(acct) }
}
