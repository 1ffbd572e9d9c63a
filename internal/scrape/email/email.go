// Package email reads grant and RFP alert newsletters from an IMAP mailbox.
// Each unseen message becomes one opportunity.
package email

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/scrape/util"
)

// Config is the per-source blob of an email_alert source.
type Config struct {
	Mailbox         string   `json:"mailbox"`
	SubjectContains []string `json:"subject_contains"`
	SinceDays       int      `json:"since_days"`
	MarkSeen        *bool    `json:"mark_seen"`
}

// PasswordFunc resolves the IMAP password at fetch time.
type PasswordFunc func() (string, error)

type Scraper struct {
	srv      Server
	password PasswordFunc
	max      int
	log      *slog.Logger

	dial func(ctx context.Context, srv Server, password string, log *slog.Logger) (mailbox, error)
	now  func() time.Time
}

func New(srv Server, password PasswordFunc, opts types.Options) *Scraper {
	opts = opts.WithDefaults()
	return &Scraper{
		srv:      srv,
		password: password,
		max:      opts.MaxResults,
		log:      opts.Logger,
		dial:     dialIMAP,
		now:      time.Now,
	}
}

func (s *Scraper) Name() string { return "email_alert" }

func (s *Scraper) Fetch(ctx context.Context, src domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error] {
	return func(yield func(domain.RawOpportunity, error) bool) {
		var cfg Config
		if err := src.Decode(&cfg); err != nil {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindMalformed, fmt.Errorf("config: %w", err)))
			return
		}
		if s.password == nil {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindAuth, errors.New("no imap password configured")))
			return
		}
		pw, err := s.password()
		if err != nil {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindAuth, fmt.Errorf("imap password: %w", err)))
			return
		}
		if pw == "" {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindAuth, errors.New("imap password is empty")))
			return
		}

		srv := s.srv
		if cfg.Mailbox != "" {
			srv.Mailbox = cfg.Mailbox
		}
		mb, err := s.dial(ctx, srv, pw, s.log)
		if err != nil {
			var le *LoginError
			if errors.As(err, &le) {
				yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindAuth, err))
			} else {
				yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindNetwork, err))
			}
			return
		}
		defer mb.Close()

		days := cfg.SinceDays
		if days <= 0 {
			days = 14
		}
		msgs, err := mb.FetchUnseen(ctx, s.max, s.now().AddDate(0, 0, -days))
		if err != nil {
			yield(domain.RawOpportunity{}, types.FetchErr(src.Name, domain.KindNetwork, err))
			return
		}

		var handled []imap.UID
		defer func() {
			if cfg.MarkSeen != nil && !*cfg.MarkSeen {
				return
			}
			if err := mb.MarkSeen(handled); err != nil {
				s.log.Warn("mark seen failed", "component", "email", "source", src.Name, "err", err)
			}
		}()

		for _, m := range msgs {
			if ctx.Err() != nil {
				return
			}
			opp, err := toOpportunity(src, m)
			if err == nil && len(cfg.SubjectContains) > 0 {
				if _, ok := util.ContainsAny(opp.Title, cfg.SubjectContains); !ok {
					continue
				}
			}
			// Only messages the consumer accepted are marked seen.
			if !yield(opp, err) {
				return
			}
			handled = append(handled, m.UID)
		}
	}
}

func toOpportunity(src domain.SourceConfig, m Message) (domain.RawOpportunity, error) {
	p, err := parseMessage(m.Raw)
	if err != nil {
		return domain.RawOpportunity{}, &types.ItemParseError{Source: src.Name, Item: firstNonEmpty(m.Subject, fmt.Sprintf("uid %d", m.UID)), Err: err}
	}
	title := cleanSubject(firstNonEmpty(p.Subject, m.Subject))
	if title == "" {
		return domain.RawOpportunity{}, &types.ItemParseError{Source: src.Name, Item: fmt.Sprintf("uid %d", m.UID), Err: errors.New("missing subject")}
	}
	org := util.OrgNameFromTitle(title)
	if org == "" {
		org = util.CleanText(firstNonEmpty(p.FromName, m.From))
	}
	return domain.RawOpportunity{
		OrgName:    org,
		Title:      title,
		Summary:    util.Truncate(p.Text, 1000),
		RawText:    util.Truncate(p.Text, types.RawTextLimit),
		SourceURL:  primaryLink(p.Links),
		SourceType: domain.SourceEmailAlert,
		SourceName: firstNonEmpty(src.Name, "Email alerts"),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
