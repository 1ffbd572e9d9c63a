// Package rss adapts RSS and Atom feeds of RFP listings and sector news.
package rss

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/scrape/util"
)

// Summaries shorter than this are considered thin when follow_links is set.
const thinSummary = 280

// Config is the source-specific blob of an RSS source.
type Config struct {
	// FollowLinks fetches the linked page for items with thin summaries and
	// uses its readable text as raw_text.
	FollowLinks bool `json:"follow_links"`
	// Org overrides the organization for every item of the feed.
	Org string `json:"org"`
}

type Scraper struct {
	opts types.Options
}

func New(opts types.Options) *Scraper {
	return &Scraper{opts: opts.WithDefaults()}
}

func (s *Scraper) Name() string { return "rss" }

func (s *Scraper) Fetch(ctx context.Context, src domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error] {
	return func(yield func(domain.RawOpportunity, error) bool) {
		var cfg Config
		if err := src.Decode(&cfg); err != nil {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindMalformed, fmt.Errorf("config: %w", err)))
			return
		}

		feed, err := s.load(ctx, src)
		if err != nil {
			yield(domain.RawOpportunity{}, types.Classify(src.Name, err))
			return
		}

		st := src.Type
		if st != domain.SourceRSSRFP && st != domain.SourceRSSNews {
			st = ClassifyFeedURL(src.URL)
		}
		feedTitle := util.CleanText(feed.Title)

		n := 0
		for _, it := range feed.Items {
			if n >= s.opts.MaxResults || ctx.Err() != nil {
				return
			}
			opp, err := s.toOpportunity(ctx, src, cfg, st, feedTitle, it)
			if err != nil {
				if !yield(domain.RawOpportunity{}, err) {
					return
				}
				continue
			}
			n++
			if !yield(opp, nil) {
				return
			}
		}
	}
}

func (s *Scraper) load(ctx context.Context, src domain.SourceConfig) (*gofeed.Feed, error) {
	if strings.TrimSpace(src.URL) == "" {
		return nil, types.FetchErr(src.Name, domain.KindMalformed, errors.New("feed url is empty"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, types.FetchErr(src.Name, domain.KindMalformed, err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	res, err := util.Do(ctx, s.opts.Client, s.opts.Limiter, req, s.opts.UserAgent)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	feed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		return nil, types.FetchErr(src.Name, domain.KindMalformed, fmt.Errorf("parse feed: %w", err))
	}
	return feed, nil
}

func (s *Scraper) toOpportunity(ctx context.Context, src domain.SourceConfig, cfg Config, st domain.SourceType, feedTitle string, it *gofeed.Item) (domain.RawOpportunity, error) {
	if it == nil {
		return domain.RawOpportunity{}, &types.ItemParseError{Source: src.Name, Item: "(nil)", Err: errors.New("empty item")}
	}
	title := util.StripHTML(it.Title)
	link := util.CanonicalURL(it.Link)
	if title == "" {
		return domain.RawOpportunity{}, &types.ItemParseError{Source: src.Name, Item: firstNonEmpty(link, it.GUID), Err: errors.New("missing title")}
	}

	body := util.StripHTML(firstNonEmpty(it.Content, it.Description))
	raw := body
	if cfg.FollowLinks && link != "" && len(body) < thinSummary {
		if text, err := s.readable(ctx, link); err != nil {
			s.opts.Logger.Debug("follow link failed", "component", "rss", "source", src.Name, "url", link, "err", err)
		} else if len(text) > len(raw) {
			raw = text
		}
	}

	org := strings.TrimSpace(cfg.Org)
	if org == "" {
		org = util.OrgNameFromTitle(title)
	}
	if org == "" {
		org = feedTitle
	}

	name := src.Name
	if name == "" {
		name = SourceNameFromURL(src.URL)
	}

	return domain.RawOpportunity{
		OrgName:    org,
		Title:      title,
		Summary:    util.Truncate(body, 1000),
		RawText:    util.Truncate(raw, types.RawTextLimit),
		SourceURL:  link,
		SourceType: st,
		SourceName: name,
	}, nil
}

func (s *Scraper) readable(ctx context.Context, link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	res, err := util.Do(ctx, s.opts.Client, s.opts.Limiter, req, s.opts.UserAgent)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	article, err := readability.FromReader(res.Body, u)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", link, err)
	}
	return util.CleanText(article.TextContent), nil
}

// ClassifyFeedURL picks rss_rfp for RFP aggregator feeds and rss_news otherwise.
func ClassifyFeedURL(u string) domain.SourceType {
	lu := strings.ToLower(u)
	if strings.Contains(lu, "rfp") {
		return domain.SourceRSSRFP
	}
	return domain.SourceRSSNews
}

var knownFeeds = map[string]string{
	"philanthropynewsdigest.org": "Philanthropy News Digest",
	"candid.org":                 "Philanthropy News Digest",
	"rfpdb.com":                  "RFPdb",
	"rfpmart.com":                "RFPMart",
	"grants.gov":                 "Grants.gov",
}

// SourceNameFromURL names a feed from its host.
func SourceNameFromURL(u string) string {
	host := util.HostOf(u)
	for suffix, name := range knownFeeds {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return name
		}
	}
	if host == "" {
		return "RSS"
	}
	return host
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
