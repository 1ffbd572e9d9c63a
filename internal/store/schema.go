package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS scrape_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  started_at TEXT NOT NULL,
  completed_at TEXT,
  source_type TEXT,
  source_name TEXT,
  items_found INTEGER NOT NULL DEFAULT 0,
  items_new INTEGER NOT NULL DEFAULT 0,
  items_qualified INTEGER NOT NULL DEFAULT 0,
  errors TEXT,
  status TEXT NOT NULL DEFAULT 'running'
);`,
	`CREATE TABLE IF NOT EXISTS leads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  org_name TEXT NOT NULL DEFAULT '',
  org_type TEXT,
  org_url TEXT,
  title TEXT NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  raw_text TEXT,
  source_url TEXT NOT NULL DEFAULT '',
  source_type TEXT NOT NULL,
  source_name TEXT NOT NULL DEFAULT '',
  confidence_score REAL,
  relevance_reasoning TEXT,
  service_matches TEXT NOT NULL DEFAULT '[]',
  intent_signals TEXT NOT NULL DEFAULT '[]',
  is_government INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'new',
  notes TEXT,
  content_hash TEXT NOT NULL UNIQUE,
  scrape_run_id INTEGER REFERENCES scrape_runs(id),
  org_ein TEXT,
  org_revenue INTEGER,
  org_assets INTEGER,
  org_city TEXT,
  org_state TEXT
);`,
	`CREATE TABLE IF NOT EXISTS source_configs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  source_type TEXT NOT NULL,
  url TEXT NOT NULL DEFAULT '',
  is_active INTEGER NOT NULL DEFAULT 1,
  last_scraped_at TEXT,
  scrape_frequency_minutes INTEGER NOT NULL DEFAULT 360,
  config_json TEXT NOT NULL DEFAULT '{}'
);`,
	`CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);`,
	`CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_leads_source_type ON leads(source_type);`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);`,
}

// Migrate brings the schema up to schemaVersion, tracked in PRAGMA user_version.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}
	if v >= schemaVersion {
		return tx.Commit()
	}

	for _, stmt := range schemaV1 {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Migrate runs the schema migration on d.
func (d *DB) Migrate(ctx context.Context) error {
	return Migrate(ctx, d.Pool)
}
