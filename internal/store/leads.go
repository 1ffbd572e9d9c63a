package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadscout-engine/internal/domain"
)

var ErrNotFound = errors.New("not found")

const leadColumns = `id, created_at, updated_at, org_name, org_type, org_url, title, summary, raw_text,
  source_url, source_type, source_name, confidence_score, relevance_reasoning, service_matches,
  intent_signals, is_government, status, notes, content_hash, scrape_run_id,
  org_ein, org_revenue, org_assets, org_city, org_state`

// InsertLeadIfAbsent inserts l unless a lead with the same content hash
// exists. On insert l.ID and the timestamps are set.
func (d *DB) InsertLeadIfAbsent(ctx context.Context, l *domain.Lead) (bool, error) {
	if l.ContentHash == "" {
		return false, errors.New("insert lead: empty content hash")
	}
	if l.Status == "" {
		l.Status = domain.StatusNew
	}
	now := time.Now().UTC()
	services, err := marshalList(l.ServiceMatches)
	if err != nil {
		return false, err
	}
	signals, err := marshalList(l.IntentSignals)
	if err != nil {
		return false, err
	}

	res, err := d.Pool.ExecContext(ctx, `
INSERT INTO leads (created_at, updated_at, org_name, org_type, org_url, title, summary, raw_text,
  source_url, source_type, source_name, confidence_score, relevance_reasoning, service_matches,
  intent_signals, is_government, status, notes, content_hash, scrape_run_id,
  org_ein, org_revenue, org_assets, org_city, org_state)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(content_hash) DO NOTHING;`,
		formatTime(now), formatTime(now), l.OrgName, nullString(l.OrgType), nullString(l.OrgURL),
		l.Title, l.Summary, nullString(l.RawText), l.SourceURL, string(l.SourceType), l.SourceName,
		l.Confidence, nullString(l.Reasoning), services, signals, l.IsGovernment, string(l.Status),
		nullString(l.Notes), l.ContentHash, l.ScrapeRunID,
		nullString(l.OrgEIN), l.OrgRevenue, l.OrgAssets, nullString(l.OrgCity), nullString(l.OrgState),
	)
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	l.ID = id
	l.CreatedAt = now
	l.UpdatedAt = now
	return true, nil
}

func (d *DB) LeadExists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := d.Pool.QueryRowContext(ctx, `SELECT 1 FROM leads WHERE content_hash = ? LIMIT 1;`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lead exists: %w", err)
	}
	return true, nil
}

func (d *DB) GetLead(ctx context.Context, id int64) (domain.Lead, error) {
	return getLead(ctx, d.Pool, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getLead(ctx context.Context, q queryer, id int64) (domain.Lead, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?;`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lead{}, fmt.Errorf("lead %d: %w", id, ErrNotFound)
	}
	return l, err
}

// UpdateLeadStatus moves a lead along the status graph and optionally
// replaces its notes. An empty status leaves the status unchanged.
func (d *DB) UpdateLeadStatus(ctx context.Context, id int64, status domain.LeadStatus, notes *string) (domain.Lead, error) {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	err = tx.QueryRowContext(ctx, `SELECT status FROM leads WHERE id = ?;`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lead{}, fmt.Errorf("lead %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Lead{}, err
	}

	next := domain.LeadStatus(cur)
	if status != "" {
		next, err = domain.CheckTransition(domain.LeadStatus(cur), string(status))
		if err != nil {
			return domain.Lead{}, err
		}
	}

	now := formatTime(time.Now())
	if notes != nil {
		_, err = tx.ExecContext(ctx, `UPDATE leads SET status = ?, notes = ?, updated_at = ? WHERE id = ?;`,
			string(next), nullString(*notes), now, id)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE leads SET status = ?, updated_at = ? WHERE id = ?;`,
			string(next), now, id)
	}
	if err != nil {
		return domain.Lead{}, fmt.Errorf("update lead %d: %w", id, err)
	}

	l, err := getLead(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	return l, tx.Commit()
}

func (d *DB) UpdateLeadEnrichment(ctx context.Context, id int64, e domain.Enrichment) error {
	_, err := d.Pool.ExecContext(ctx, `
UPDATE leads SET org_ein = ?, org_revenue = ?, org_assets = ?, org_city = ?, org_state = ?, updated_at = ?
WHERE id = ?;`,
		nullString(e.EIN), e.Revenue, e.Assets, nullString(e.City), nullString(e.State), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("enrich lead %d: %w", id, err)
	}
	return nil
}

type ListLeadsOpts struct {
	Page              int
	PageSize          int
	Status            string
	SourceType        string
	MinConfidence     *float64
	Search            string
	IncludeGovernment bool
	SortBy            string // created_at | confidence_score | org_name | title | status
	SortOrder         string // asc | desc
}

type LeadPage struct {
	Leads    []domain.Lead `json:"leads"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// likeEscaper makes search text match literally under ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

var leadSortColumns = map[string]string{
	"created_at":       "created_at",
	"confidence_score": "confidence_score",
	"org_name":         "org_name",
	"title":            "title",
	"status":           "status",
}

// ValidLeadSort reports whether col is an accepted sort_by value.
func ValidLeadSort(col string) bool {
	_, ok := leadSortColumns[col]
	return ok
}

func (d *DB) ListLeads(ctx context.Context, opts ListLeadsOpts) (LeadPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}
	sortCol, ok := leadSortColumns[opts.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		order = "ASC"
	}

	var where []string
	var args []any
	if !opts.IncludeGovernment {
		where = append(where, "is_government = 0")
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, opts.SourceType)
	}
	if opts.MinConfidence != nil {
		where = append(where, "confidence_score >= ?")
		args = append(args, *opts.MinConfidence)
	}
	if s := strings.TrimSpace(opts.Search); s != "" {
		like := "%" + likeEscaper.Replace(s) + "%"
		where = append(where, `(title LIKE ? ESCAPE '\' OR org_name LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	page := LeadPage{Leads: []domain.Lead{}, Page: opts.Page, PageSize: opts.PageSize}
	if err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads `+clause+`;`, args...).Scan(&page.Total); err != nil {
		return LeadPage{}, fmt.Errorf("count leads: %w", err)
	}

	query := fmt.Sprintf(`
SELECT %s FROM leads
%s
ORDER BY %s %s, id %s
LIMIT ? OFFSET ?;`, leadColumns, clause, sortCol, order, order)
	rows, err := d.Pool.QueryContext(ctx, query, append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)...)
	if err != nil {
		return LeadPage{}, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return LeadPage{}, err
		}
		page.Leads = append(page.Leads, l)
	}
	if err := rows.Err(); err != nil {
		return LeadPage{}, err
	}
	return page, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(s scanner) (domain.Lead, error) {
	var (
		l                                   domain.Lead
		created, updated                    string
		orgType, orgURL, rawText, reasoning sql.NullString
		notes, ein, city, state             sql.NullString
		sourceType, status                  string
		services, signals                   string
		confidence                          sql.NullFloat64
		runID, revenue, assets              sql.NullInt64
	)
	if err := s.Scan(
		&l.ID, &created, &updated, &l.OrgName, &orgType, &orgURL, &l.Title, &l.Summary, &rawText,
		&l.SourceURL, &sourceType, &l.SourceName, &confidence, &reasoning, &services,
		&signals, &l.IsGovernment, &status, &notes, &l.ContentHash, &runID,
		&ein, &revenue, &assets, &city, &state,
	); err != nil {
		return domain.Lead{}, err
	}
	l.CreatedAt = parseTime(created)
	l.UpdatedAt = parseTime(updated)
	l.OrgType = orgType.String
	l.OrgURL = orgURL.String
	l.RawText = rawText.String
	l.SourceType = domain.SourceType(sourceType)
	l.Reasoning = reasoning.String
	l.Status = domain.LeadStatus(status)
	l.Notes = notes.String
	l.OrgEIN = ein.String
	l.OrgCity = city.String
	l.OrgState = state.String
	if confidence.Valid {
		c := confidence.Float64
		l.Confidence = &c
	}
	if runID.Valid {
		id := runID.Int64
		l.ScrapeRunID = &id
	}
	if revenue.Valid {
		v := revenue.Int64
		l.OrgRevenue = &v
	}
	if assets.Valid {
		v := assets.Int64
		l.OrgAssets = &v
	}
	l.ServiceMatches = unmarshalList(services)
	l.IntentSignals = unmarshalList(signals)
	return l, nil
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalList(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}
