// Package grantsgov pages through the Grants.gov search2 API.
package grantsgov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/scrape/util"
)

const (
	DefaultBaseURL = "https://api.grants.gov/v1/api"
	detailURL      = "https://www.grants.gov/search-results-detail/%s"
	defaultRows    = 25
	// search2 rejects deep offsets; stop well before.
	maxOffset = 1000
)

var DefaultKeywords = []string{
	"knowledge management system",
	"digital transformation nonprofit",
	"interactive dashboard",
	"data management tool",
	"website redesign nonprofit",
	"custom application development",
	"digital storytelling",
	"information architecture",
	"data visualization platform",
	"technology modernization",
}

type Config struct {
	Keywords    []string `json:"keywords"`
	Rows        int      `json:"rows"`
	OppStatuses string   `json:"opp_statuses"`
}

type Scraper struct {
	opts types.Options
}

func New(opts types.Options) *Scraper {
	return &Scraper{opts: opts.WithDefaults()}
}

func (s *Scraper) Name() string { return "grants_gov" }

type searchRequest struct {
	Keyword        string `json:"keyword"`
	OppStatuses    string `json:"oppStatuses"`
	Rows           int    `json:"rows"`
	StartRecordNum int    `json:"startRecordNum"`
	SortBy         string `json:"sortBy"`
}

type searchResponse struct {
	ErrorCode int    `json:"errorcode"`
	Msg       string `json:"msg"`
	Data      struct {
		HitCount int      `json:"hitCount"`
		OppHits  []oppHit `json:"oppHits"`
	} `json:"data"`
}

type oppHit struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	Title       string `json:"title"`
	AgencyCode  string `json:"agencyCode"`
	Agency      string `json:"agency"`
	OpenDate    string `json:"openDate"`
	CloseDate   string `json:"closeDate"`
	DocType     string `json:"docType"`
	Description string `json:"description"`
}

// Fetch walks each keyword page by page, yielding hits as they arrive. A hit
// seen under an earlier keyword is not yielded again.
func (s *Scraper) Fetch(ctx context.Context, src domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error] {
	return func(yield func(domain.RawOpportunity, error) bool) {
		var cfg Config
		if err := src.Decode(&cfg); err != nil {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindMalformed, fmt.Errorf("config: %w", err)))
			return
		}
		keywords := cfg.Keywords
		if len(keywords) == 0 {
			keywords = DefaultKeywords
		}
		rows := cfg.Rows
		if rows <= 0 {
			rows = defaultRows
		}
		statuses := cfg.OppStatuses
		if statuses == "" {
			statuses = "posted"
		}
		base := strings.TrimRight(src.URL, "/")
		if base == "" {
			base = DefaultBaseURL
		}

		seen := map[string]bool{}
		n := 0
		for _, kw := range keywords {
			for offset := 0; offset < maxOffset; {
				if ctx.Err() != nil {
					yield(domain.RawOpportunity{}, types.Classify(src.Name, ctx.Err()))
					return
				}
				resp, err := s.search(ctx, base, searchRequest{
					Keyword:        kw,
					OppStatuses:    statuses,
					Rows:           rows,
					StartRecordNum: offset,
					SortBy:         "openDate|desc",
				})
				if err != nil {
					yield(domain.RawOpportunity{}, types.Classify(src.Name, err))
					return
				}
				hits := resp.Data.OppHits
				for _, h := range hits {
					if n >= s.opts.MaxResults {
						return
					}
					id := strings.TrimSpace(h.ID)
					if id != "" && seen[id] {
						continue
					}
					opp, err := toOpportunity(src, h)
					if err != nil {
						if !yield(domain.RawOpportunity{}, err) {
							return
						}
						continue
					}
					seen[id] = true
					n++
					if !yield(opp, nil) {
						return
					}
				}
				offset += len(hits)
				if len(hits) == 0 || offset >= resp.Data.HitCount {
					break
				}
			}
		}
	}
}

func (s *Scraper) search(ctx context.Context, base string, body searchRequest) (searchResponse, error) {
	var out searchResponse
	b, err := json.Marshal(body)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/search2", bytes.NewReader(b))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := util.Do(ctx, s.opts.Client, s.opts.Limiter, req, s.opts.UserAgent)
	if err != nil {
		return out, fmt.Errorf("grants.gov search %q: %w", body.Keyword, err)
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("grants.gov decode: %w", err)
	}
	if out.ErrorCode != 0 {
		return out, fmt.Errorf("grants.gov error %d: %s", out.ErrorCode, out.Msg)
	}
	return out, nil
}

func toOpportunity(src domain.SourceConfig, h oppHit) (domain.RawOpportunity, error) {
	title := util.CleanText(h.Title)
	id := strings.TrimSpace(h.ID)
	if title == "" || id == "" {
		return domain.RawOpportunity{}, &types.ItemParseError{Source: src.Name, Item: firstNonEmpty(id, h.Number, "(no id)"), Err: fmt.Errorf("missing title or id")}
	}
	org := util.CleanText(firstNonEmpty(h.Agency, h.AgencyCode))

	var parts []string
	if d := util.StripHTML(h.Description); d != "" {
		parts = append(parts, d)
	}
	if h.Number != "" {
		parts = append(parts, "Opportunity number: "+strings.TrimSpace(h.Number)+".")
	}
	if d := formatDate(h.OpenDate); d != "" {
		parts = append(parts, "Opens "+d+".")
	}
	if d := formatDate(h.CloseDate); d != "" {
		parts = append(parts, "Closes "+d+".")
	}
	summary := strings.Join(parts, " ")

	name := src.Name
	if name == "" {
		name = "Grants.gov"
	}
	return domain.RawOpportunity{
		OrgName:    org,
		Title:      title,
		Summary:    util.Truncate(summary, 1000),
		RawText:    util.Truncate(summary, types.RawTextLimit),
		SourceURL:  fmt.Sprintf(detailURL, id),
		SourceType: domain.SourceGrantsGov,
		SourceName: name,
	}, nil
}

// formatDate renders Grants.gov's MM/DD/YYYY dates as ISO dates. Unparseable
// values are passed through.
func formatDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
