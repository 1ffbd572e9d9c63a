// Package propublica looks up nonprofit financials in the ProPublica
// Nonprofit Explorer API. It never produces opportunities of its own.
package propublica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/scrape/util"
)

const DefaultBaseURL = "https://projects.propublica.org/nonprofits/api/v2"

type Client struct {
	opts    types.Options
	baseURL string
}

func New(opts types.Options, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{opts: opts.WithDefaults(), baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) Name() string { return "propublica" }

// Fetch yields nothing: ProPublica only enriches leads found elsewhere.
func (c *Client) Fetch(ctx context.Context, src domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error] {
	return func(yield func(domain.RawOpportunity, error) bool) {}
}

type searchResponse struct {
	Organizations []struct {
		EIN  json.Number `json:"ein"`
		Name string      `json:"name"`
	} `json:"organizations"`
}

type orgResponse struct {
	Organization struct {
		EIN      json.Number `json:"ein"`
		Name     string      `json:"name"`
		City     string      `json:"city"`
		State    string      `json:"state"`
		NTEECode string      `json:"ntee_code"`
	} `json:"organization"`
	Filings []struct {
		TaxPeriodYear int    `json:"tax_prd_yr"`
		TotRevenue    *int64 `json:"totrevenue"`
		TotExpenses   *int64 `json:"totfuncexpns"`
		TotAssetsEnd  *int64 `json:"totassetsend"`
	} `json:"filings_with_data"`
}

// Enrich resolves org by name to its best-matching EIN and returns the most
// recent filing. It returns types.ErrNotFound when nothing matches.
func (c *Client) Enrich(ctx context.Context, org string) (domain.Enrichment, error) {
	org = util.CleanText(org)
	if org == "" {
		return domain.Enrichment{}, types.ErrNotFound
	}

	var sr searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/search.json?q="+url.QueryEscape(org), &sr); err != nil {
		return domain.Enrichment{}, err
	}
	if len(sr.Organizations) == 0 || sr.Organizations[0].EIN.String() == "" {
		return domain.Enrichment{}, types.ErrNotFound
	}
	ein := sr.Organizations[0].EIN.String()

	var or orgResponse
	if err := c.getJSON(ctx, c.baseURL+"/organizations/"+url.PathEscape(ein)+".json", &or); err != nil {
		return domain.Enrichment{}, err
	}

	out := domain.Enrichment{
		EIN:      FormatEIN(ein),
		City:     util.CleanText(or.Organization.City),
		State:    util.CleanText(or.Organization.State),
		NTEECode: util.CleanText(or.Organization.NTEECode),
	}
	if len(or.Filings) > 0 {
		f := or.Filings[0]
		out.Revenue = f.TotRevenue
		out.Assets = f.TotAssetsEnd
		out.TaxYear = f.TaxPeriodYear
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := util.Do(ctx, c.opts.Client, c.opts.Limiter, req, c.opts.UserAgent)
	if err != nil {
		var se *util.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return types.ErrNotFound
		}
		return fmt.Errorf("propublica: %w", err)
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("propublica decode: %w", err)
	}
	return nil
}

// FormatEIN renders a numeric EIN as NN-NNNNNNN.
func FormatEIN(ein string) string {
	ein = strings.ReplaceAll(strings.TrimSpace(ein), "-", "")
	if len(ein) < 9 {
		ein = strings.Repeat("0", 9-len(ein)) + ein
	}
	if len(ein) != 9 {
		return ein
	}
	return ein[:2] + "-" + ein[2:]
}
