package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leadscout-engine/internal/domain"
)

// CreateScrapeRun inserts a run row in status running. sourceType and
// sourceName are nil for runs spanning several sources.
func (d *DB) CreateScrapeRun(ctx context.Context, sourceType, sourceName *string) (int64, error) {
	res, err := d.Pool.ExecContext(ctx, `
INSERT INTO scrape_runs (started_at, source_type, source_name, status)
VALUES (?, ?, ?, ?);`,
		formatTime(time.Now()), nullStringPtr(sourceType), nullStringPtr(sourceName), string(domain.RunRunning))
	if err != nil {
		return 0, fmt.Errorf("create scrape run: %w", err)
	}
	return res.LastInsertId()
}

// FinalizeScrapeRun records counts and errors and closes the run.
func (d *DB) FinalizeScrapeRun(ctx context.Context, id int64, c domain.RunCounts, errs []domain.RunError, status domain.RunStatus) error {
	res, err := d.Pool.ExecContext(ctx, `
UPDATE scrape_runs
SET completed_at = ?, items_found = ?, items_new = ?, items_qualified = ?, errors = ?, status = ?
WHERE id = ?;`,
		formatTime(time.Now()), c.Found, c.New, c.Qualified, nullString(domain.FormatRunErrors(errs)), string(status), id)
	if err != nil {
		return fmt.Errorf("finalize scrape run %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finalize scrape run %d: %w", id, ErrNotFound)
	}
	return nil
}

// FailInterruptedRuns marks runs left in status running by a previous
// process as failed. It returns the number of rows touched.
func (d *DB) FailInterruptedRuns(ctx context.Context) (int64, error) {
	res, err := d.Pool.ExecContext(ctx, `
UPDATE scrape_runs
SET status = ?, completed_at = ?, errors = COALESCE(errors || char(10), '') || ?
WHERE status = ?;`,
		string(domain.RunFailed), formatTime(time.Now()), "interrupted: engine restarted", string(domain.RunRunning))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = `id, started_at, completed_at, source_type, source_name,
  items_found, items_new, items_qualified, errors, status`

func (d *DB) GetRun(ctx context.Context, id int64) (domain.ScrapeRun, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = ?;`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeRun{}, fmt.Errorf("scrape run %d: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]domain.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+runColumns+` FROM scrape_runs
ORDER BY started_at DESC, id DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []domain.ScrapeRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(s scanner) (domain.ScrapeRun, error) {
	var (
		r                      domain.ScrapeRun
		started, status        string
		completed, errs        sql.NullString
		sourceType, sourceName sql.NullString
	)
	if err := s.Scan(&r.ID, &started, &completed, &sourceType, &sourceName,
		&r.Found, &r.New, &r.Qualified, &errs, &status); err != nil {
		return domain.ScrapeRun{}, err
	}
	r.StartedAt = parseTime(started)
	r.CompletedAt = parseTimePtr(completed)
	if sourceType.Valid {
		r.SourceType = &sourceType.String
	}
	if sourceName.Valid {
		r.SourceName = &sourceName.String
	}
	r.ErrorsText = errs.String
	r.Status = domain.RunStatus(status)
	return r, nil
}
