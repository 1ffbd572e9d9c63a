package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadscout-engine/internal/domain"
)

// UpsertSourceConfig inserts or updates a source by name. The last scrape
// timestamp of an existing row is kept.
func (d *DB) UpsertSourceConfig(ctx context.Context, s domain.SourceConfig) error {
	cfg := s.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("source %s config: %w", s.Name, err)
	}
	_, err = d.Pool.ExecContext(ctx, `
INSERT INTO source_configs (name, source_type, url, is_active, scrape_frequency_minutes, config_json)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  source_type = excluded.source_type,
  url = excluded.url,
  is_active = excluded.is_active,
  scrape_frequency_minutes = excluded.scrape_frequency_minutes,
  config_json = excluded.config_json;`,
		s.Name, string(s.Type), s.URL, s.Active, s.FrequencyMinutes, string(b))
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", s.Name, err)
	}
	return nil
}

const sourceColumns = `id, name, source_type, url, is_active, last_scraped_at, scrape_frequency_minutes, config_json`

// ListSourceConfigs returns every configured source ordered by name.
func (d *DB) ListSourceConfigs(ctx context.Context) ([]domain.SourceConfig, error) {
	return d.querySources(ctx, `SELECT `+sourceColumns+` FROM source_configs ORDER BY name;`)
}

// ListActiveSourceConfigs returns active sources. With dueOnly set, sources
// whose frequency window has not elapsed at now are left out.
func (d *DB) ListActiveSourceConfigs(ctx context.Context, dueOnly bool, now time.Time) ([]domain.SourceConfig, error) {
	all, err := d.querySources(ctx, `SELECT `+sourceColumns+` FROM source_configs WHERE is_active = 1 ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	if !dueOnly {
		return all, nil
	}
	out := all[:0]
	for _, s := range all {
		if s.Due(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (d *DB) GetSourceConfig(ctx context.Context, name string) (domain.SourceConfig, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM source_configs WHERE name = ?;`, name)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SourceConfig{}, fmt.Errorf("source %q: %w", name, ErrNotFound)
	}
	return s, err
}

func (d *DB) MarkSourceScraped(ctx context.Context, name string, ts time.Time) error {
	res, err := d.Pool.ExecContext(ctx, `UPDATE source_configs SET last_scraped_at = ? WHERE name = ?;`, formatTime(ts), name)
	if err != nil {
		return fmt.Errorf("mark source %s scraped: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark source %s scraped: %w", name, ErrNotFound)
	}
	return nil
}

// SourcePatch holds the fields an operator may change at runtime.
type SourcePatch struct {
	Active           *bool `json:"is_active"`
	FrequencyMinutes *int  `json:"scrape_frequency_minutes"`
}

func (d *DB) UpdateSourceConfig(ctx context.Context, name string, p SourcePatch) (domain.SourceConfig, error) {
	if p.FrequencyMinutes != nil && *p.FrequencyMinutes < 0 {
		return domain.SourceConfig{}, fmt.Errorf("source %q: negative scrape frequency", name)
	}
	_, err := d.Pool.ExecContext(ctx, `
UPDATE source_configs
SET is_active = COALESCE(?, is_active),
    scrape_frequency_minutes = COALESCE(?, scrape_frequency_minutes)
WHERE name = ?;`, p.Active, p.FrequencyMinutes, name)
	if err != nil {
		return domain.SourceConfig{}, fmt.Errorf("update source %s: %w", name, err)
	}
	return d.GetSourceConfig(ctx, name)
}

func (d *DB) querySources(ctx context.Context, query string, args ...any) ([]domain.SourceConfig, error) {
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := []domain.SourceConfig{}
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSource(sc scanner) (domain.SourceConfig, error) {
	var (
		s          domain.SourceConfig
		sourceType string
		last       sql.NullString
		cfg        string
	)
	if err := sc.Scan(&s.ID, &s.Name, &sourceType, &s.URL, &s.Active, &last, &s.FrequencyMinutes, &cfg); err != nil {
		return domain.SourceConfig{}, err
	}
	s.Type = domain.SourceType(sourceType)
	s.LastScrapedAt = parseTimePtr(last)
	s.Config = map[string]any{}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &s.Config); err != nil {
			return domain.SourceConfig{}, fmt.Errorf("source %s config_json: %w", s.Name, err)
		}
	}
	return s, nil
}
