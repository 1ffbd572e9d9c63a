// Package webpage scrapes opportunity listings from plain HTML pages using
// CSS selectors supplied in the source config.
package webpage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/scrape/util"
)

type Config struct {
	ItemSelector    string `json:"item_selector"`
	TitleSelector   string `json:"title_selector"`
	LinkSelector    string `json:"link_selector"`
	SummarySelector string `json:"summary_selector"`
	OrgSelector     string `json:"org_selector"`
	Org             string `json:"org"`
	FollowLinks     bool   `json:"follow_links"`
	// DetailSelector narrows the followed page before conversion. Defaults to body.
	DetailSelector string `json:"detail_selector"`
	// RespectRobots defaults to true.
	RespectRobots *bool `json:"respect_robots"`
}

type Scraper struct {
	opts types.Options
	md   *converter.Converter

	mu     sync.Mutex
	robots map[string]*robotstxt.Group
}

func New(opts types.Options) *Scraper {
	return &Scraper{
		opts: opts.WithDefaults(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		robots: make(map[string]*robotstxt.Group),
	}
}

func (s *Scraper) Name() string { return "web_scrape" }

func (s *Scraper) Fetch(ctx context.Context, src domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error] {
	return func(yield func(domain.RawOpportunity, error) bool) {
		var cfg Config
		if err := src.Decode(&cfg); err != nil {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindMalformed, fmt.Errorf("config: %w", err)))
			return
		}
		if strings.TrimSpace(cfg.ItemSelector) == "" {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindMalformed, errors.New("config: item_selector is required")))
			return
		}
		page, err := url.Parse(src.URL)
		if err != nil || page.Host == "" {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindMalformed, fmt.Errorf("bad url %q", src.URL)))
			return
		}
		respect := cfg.RespectRobots == nil || *cfg.RespectRobots
		if respect && !s.allowed(ctx, page) {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindAuth, fmt.Errorf("robots.txt disallows %s", page.Path)))
			return
		}

		doc, err := s.document(ctx, page.String())
		if err != nil {
			fe := types.Classify(src.Name, err)
			fe.Source = src.Name
			yield(domain.RawOpportunity{}, fe)
			return
		}

		items := doc.Find(cfg.ItemSelector)
		n := 0
		for i := range items.Length() {
			if n >= s.opts.MaxResults || ctx.Err() != nil {
				return
			}
			sel := items.Eq(i)

			title := util.SelectText(sel, cfg.TitleSelector)
			link := util.ResolveURL(page, util.SelectHref(sel, cfg.LinkSelector))
			if util.LooksLikeJunkTitle(title) {
				if !yield(domain.RawOpportunity{}, &types.ItemParseError{Source: src.Name, Item: fmt.Sprintf("#%d %s", i, link), Err: errors.New("missing title")}) {
					return
				}
				continue
			}

			summary := ""
			if cfg.SummarySelector != "" {
				summary = util.SelectText(sel, cfg.SummarySelector)
			}
			raw := summary
			if cfg.FollowLinks && link != "" {
				if md, err := s.detail(ctx, link, cfg.DetailSelector, respect); err != nil {
					s.opts.Logger.Debug("detail fetch failed", "component", "webpage", "source", src.Name, "url", link, "err", err)
				} else if md != "" {
					raw = md
				}
			}

			org := strings.TrimSpace(cfg.Org)
			if org == "" && cfg.OrgSelector != "" {
				org = util.SelectText(sel, cfg.OrgSelector)
			}
			if org == "" {
				org = util.OrgNameFromTitle(title)
			}

			n++
			if !yield(domain.RawOpportunity{
				OrgName:    org,
				Title:      title,
				Summary:    util.Truncate(summary, 1000),
				RawText:    util.Truncate(raw, types.RawTextLimit),
				SourceURL:  link,
				SourceType: domain.SourceWebScrape,
				SourceName: firstNonEmpty(src.Name, util.HostOf(src.URL)),
			}, nil) {
				return
			}
		}
	}
}

func (s *Scraper) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return util.Do(ctx, s.opts.Client, s.opts.Limiter, req, s.opts.UserAgent)
}

func (s *Scraper) document(ctx context.Context, u string) (*goquery.Document, error) {
	res, err := s.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, types.FetchErr(u, domain.KindMalformed, err)
	}
	return doc, nil
}

// detail fetches a linked page and converts the selected region to markdown.
func (s *Scraper) detail(ctx context.Context, link, selector string, respect bool) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if respect && !s.allowed(ctx, u) {
		return "", fmt.Errorf("robots.txt disallows %s", u.Path)
	}
	doc, err := s.document(ctx, link)
	if err != nil {
		return "", err
	}
	if selector == "" {
		selector = "body"
	}
	doc.Find("script, style, nav, footer, header").Remove()
	html, err := doc.Find(selector).First().Html()
	if err != nil {
		return "", err
	}
	md, err := s.md.ConvertString(html, converter.WithDomain(u.Scheme+"://"+u.Host))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// allowed checks robots.txt for u, caching the parsed group per host. A
// missing or unreadable robots.txt allows everything.
func (s *Scraper) allowed(ctx context.Context, u *url.URL) bool {
	host := u.Scheme + "://" + u.Host

	s.mu.Lock()
	g, ok := s.robots[host]
	s.mu.Unlock()
	if !ok {
		g = s.loadRobots(ctx, host)
		s.mu.Lock()
		s.robots[host] = g
		s.mu.Unlock()
	}
	if g == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return g.Test(path)
}

func (s *Scraper) loadRobots(ctx context.Context, host string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	if err := s.opts.Limiter.WaitURL(ctx, host); err != nil {
		return nil
	}
	res, err := s.opts.Client.Do(req)
	if err != nil {
		return nil
	}
	defer res.Body.Close()
	data, err := robotstxt.FromResponse(res)
	if err != nil {
		s.opts.Logger.Debug("robots.txt unreadable", "component", "webpage", "host", host, "err", err)
		return nil
	}
	return data.FindGroup(s.opts.UserAgent)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
