package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leadscout-engine/internal/domain"
)

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type DashboardStats struct {
	TotalLeads    int                `json:"total_leads"`
	ByStatus      map[string]int     `json:"by_status"`
	Qualified     int                `json:"qualified_leads"`
	AvgConfidence *float64           `json:"avg_confidence"`
	LeadsThisWeek int                `json:"leads_this_week"`
	TopServices   []TagCount         `json:"top_services"`
	BySourceType  map[string]int     `json:"by_source_type"`
	RecentRuns    []domain.ScrapeRun `json:"recent_runs"`
}

const (
	topServicesLimit = 5
	recentRunsLimit  = 10
)

// Stats aggregates the dashboard figures. The week window ends at now.
func (d *DB) Stats(ctx context.Context, now time.Time) (DashboardStats, error) {
	st := DashboardStats{
		ByStatus:     map[string]int{},
		BySourceType: map[string]int{},
		TopServices:  []TagCount{},
	}
	for _, s := range domain.AllStatuses() {
		st.ByStatus[string(s)] = 0
	}

	if err := countInto(ctx, d.Pool, `SELECT status, COUNT(*) FROM leads GROUP BY status;`, st.ByStatus); err != nil {
		return st, fmt.Errorf("stats by status: %w", err)
	}
	for _, n := range st.ByStatus {
		st.TotalLeads += n
	}
	st.Qualified = st.ByStatus[string(domain.StatusQualified)]

	if err := countInto(ctx, d.Pool, `SELECT source_type, COUNT(*) FROM leads GROUP BY source_type;`, st.BySourceType); err != nil {
		return st, fmt.Errorf("stats by source: %w", err)
	}

	var avg sql.NullFloat64
	if err := d.Pool.QueryRowContext(ctx, `SELECT AVG(confidence_score) FROM leads WHERE confidence_score IS NOT NULL;`).Scan(&avg); err != nil {
		return st, fmt.Errorf("stats avg confidence: %w", err)
	}
	if avg.Valid {
		v := avg.Float64
		st.AvgConfidence = &v
	}

	weekAgo := formatTime(now.Add(-7 * 24 * time.Hour))
	if err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE created_at >= ?;`, weekAgo).Scan(&st.LeadsThisWeek); err != nil {
		return st, fmt.Errorf("stats week: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx, `
SELECT j.value, COUNT(*) AS n
FROM leads, json_each(leads.service_matches) AS j
GROUP BY j.value
ORDER BY n DESC, j.value ASC
LIMIT ?;`, topServicesLimit)
	if err != nil {
		return st, fmt.Errorf("stats services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return st, err
		}
		st.TopServices = append(st.TopServices, tc)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	st.RecentRuns, err = d.ListRuns(ctx, recentRunsLimit)
	if err != nil {
		return st, err
	}
	return st, nil
}

func countInto(ctx context.Context, db *sql.DB, query string, into map[string]int) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		into[k] = n
	}
	return rows.Err()
}
