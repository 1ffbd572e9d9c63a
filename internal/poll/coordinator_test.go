package poll

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/qualify"
	"leadscout-engine/internal/scrape"
	"leadscout-engine/internal/scrape/rss"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/store"
)

type sliceAdapter struct {
	items []domain.RawOpportunity
	err   error
	block bool
}

func (a sliceAdapter) Name() string { return "fake" }

func (a sliceAdapter) Fetch(ctx context.Context, src domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error] {
	return func(yield func(domain.RawOpportunity, error) bool) {
		for _, o := range a.items {
			if !yield(o, nil) {
				return
			}
		}
		if a.block {
			<-ctx.Done()
			yield(domain.RawOpportunity{}, ctx.Err())
			return
		}
		if a.err != nil {
			yield(domain.RawOpportunity{}, a.err)
		}
	}
}

type qualifierFunc func(o domain.RawOpportunity) (domain.Qualification, error)

func (f qualifierFunc) Qualify(_ context.Context, o domain.RawOpportunity, _ []domain.Service) (domain.Qualification, error) {
	return f(o)
}

func scoreAll(c float64) qualifierFunc {
	return func(domain.RawOpportunity) (domain.Qualification, error) {
		return domain.Qualification{Confidence: c, Reasoning: "fits", ServiceMatches: []string{"knowledge_systems"}}, nil
	}
}

func openStore(t *testing.T) *store.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := store.Open(name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func addSource(t *testing.T, db *store.DB, name string, st domain.SourceType, url string) {
	t.Helper()
	require.NoError(t, db.UpsertSourceConfig(context.Background(), domain.SourceConfig{
		Name: name, Type: st, URL: url, Active: true, FrequencyMinutes: 60,
	}))
}

func opp(title string) domain.RawOpportunity {
	return domain.RawOpportunity{
		OrgName: "Riverside Museum",
		Title:   title,
		Summary: "Looking for help with " + strings.ToLower(title),
	}
}

const springfieldFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>RFP feed</title>
%s
</channel></rss>`

const historicalItem = `<item>
  <title>Springfield Historical Society: Website Redesign</title>
  <link>https://rfp.example/shs</link>
  <description>Redesign of the society website.</description>
</item>`

const digitizationItem = `<item>
  <title>City of Springfield — Records Digitization RFP</title>
  <link>https://rfp.example/springfield</link>
  <description>The City seeks a vendor to digitize permit records.</description>
</item>`

func TestRunSpringfieldScenario(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	var second atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := historicalItem
		if second.Load() {
			items = historicalItem + digitizationItem
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(strings.Replace(springfieldFeed, "%s", items, 1)))
	}))
	defer srv.Close()

	addSource(t, db, "rfp-feed", domain.SourceRSSRFP, srv.URL+"/feed.rss")
	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSRFP, rss.New(types.Options{Client: srv.Client()}))
	c := NewCoordinator(db, reg, scoreAll(0.4), Options{})

	first, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCounts{Found: 1, New: 1}, first.RunCounts)

	second.Store(true)
	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Found)
	assert.Equal(t, 1, run.New)
	assert.Empty(t, run.ErrorsText)

	page, err := db.ListLeads(ctx, store.ListLeadsOpts{Search: "Digitization"})
	require.NoError(t, err)
	require.Len(t, page.Leads, 1)
	l := page.Leads[0]
	assert.Equal(t, domain.StatusNew, l.Status)
	assert.Equal(t, domain.SourceRSSRFP, l.SourceType)
	assert.Equal(t, "City of Springfield", l.OrgName)
	require.NotNil(t, l.ScrapeRunID)
	assert.Equal(t, run.ID, *l.ScrapeRunID)

	stored, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)
	assert.Equal(t, run.RunCounts, stored.RunCounts)
}

func TestRunQualifierTimeoutStillStoresLead(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Archive RFP"), opp("Portal upgrade")}})
	q := qualifierFunc(func(o domain.RawOpportunity) (domain.Qualification, error) {
		if o.Title == "Archive RFP" {
			return domain.Qualification{}, &qualify.Error{Kind: qualify.KindTimeout, Attempts: 3, Err: context.DeadlineExceeded}
		}
		return domain.Qualification{Confidence: 0.9, Reasoning: "strong"}, nil
	})
	c := NewCoordinator(db, reg, q, Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.RunCounts{Found: 2, New: 2, Qualified: 1}, run.RunCounts)
	assert.Contains(t, run.ErrorsText, `"Archive RFP"`)
	assert.Contains(t, run.ErrorsText, "timeout")

	page, err := db.ListLeads(ctx, store.ListLeadsOpts{Search: "Archive"})
	require.NoError(t, err)
	require.Len(t, page.Leads, 1)
	assert.Nil(t, page.Leads[0].Confidence)

	stored, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ErrorsText, "Archive RFP")
}

func TestRunIsolatesFailingSource(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "broken", domain.SourceWebScrape, "https://broken.example/")
	addSource(t, db, "good", domain.SourceRSSNews, "https://good.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceWebScrape, sliceAdapter{err: types.FetchErr("broken", domain.KindNetwork, errors.New("connection refused"))})
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Collections database")}})
	c := NewCoordinator(db, reg, scoreAll(0.8), Options{FetchWorkers: 2})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 1, run.New)
	assert.Equal(t, 1, run.Qualified)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, domain.KindNetwork, run.Errors[0].Kind)
	assert.Equal(t, "broken", run.Errors[0].Source)

	broken, err := db.GetSourceConfig(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, broken.LastScrapedAt)
	good, err := db.GetSourceConfig(ctx, "good")
	require.NoError(t, err)
	assert.NotNil(t, good.LastScrapedAt)

	statuses := c.SourceStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "broken", statuses[0].Source)
	assert.NotEmpty(t, statuses[0].LastError)
	assert.Empty(t, statuses[1].LastError)
	assert.Equal(t, 1, statuses[1].LastAdded)
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Exhibit app"), opp("Exhibit app")}})
	c := NewCoordinator(db, reg, scoreAll(0.5), Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCounts{Found: 2, New: 1}, run.RunCounts)

	run, err = c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, 0, run.New)

	page, err := db.ListLeads(ctx, store.ListLeadsOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestRunCountsItemParseErrors(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{
		items: []domain.RawOpportunity{opp("Digital archive")},
		err:   &types.ItemParseError{Source: "news", Item: "https://news.example/x", Err: errors.New("missing title")},
	})
	c := NewCoordinator(db, reg, scoreAll(0.5), Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, domain.KindItemParse, run.Errors[0].Kind)

	src, err := db.GetSourceConfig(ctx, "news")
	require.NoError(t, err)
	assert.NotNil(t, src.LastScrapedAt)
}

type failingInserts struct {
	*store.DB
}

func (failingInserts) InsertLeadIfAbsent(context.Context, *domain.Lead) (bool, error) {
	return false, errors.New("disk I/O error")
}

func TestRunPersistenceFaultFailsRun(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Knowledge base")}})
	c := NewCoordinator(failingInserts{db}, reg, scoreAll(0.5), Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	var fault *CoordinatorFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, run.ID, fault.RunID)
	assert.Equal(t, domain.RunFailed, run.Status)

	stored, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, stored.Status)
	assert.Contains(t, stored.ErrorsText, "disk I/O error")
}

func TestRunTimeoutMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "slow", domain.SourceRSSNews, "https://slow.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Story map")}, block: true})
	c := NewCoordinator(db, reg, scoreAll(0.9), Options{RunTimeout: 100 * time.Millisecond})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.ErrorsText, "cancelled: ")
	assert.Equal(t, 1, run.New)

	stored, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, stored.Status)

	page, err := db.ListLeads(ctx, store.ListLeadsOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	src, err := db.GetSourceConfig(ctx, "slow")
	require.NoError(t, err)
	assert.Nil(t, src.LastScrapedAt)
}

func TestScheduledRunOnlyTakesDueSources(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "fresh", domain.SourceRSSNews, "https://fresh.example/feed")
	require.NoError(t, db.MarkSourceScraped(ctx, "fresh", time.Now()))

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Data portal")}})
	c := NewCoordinator(db, reg, scoreAll(0.5), Options{})

	run, err := c.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.Found)

	run, err = c.Run(ctx, RunRequest{Manual: true, Sources: []string{"fresh", "nope"}})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Found)
	require.NotNil(t, run.SourceName)
	assert.Equal(t, "fresh", *run.SourceName)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, "nope", run.Errors[0].Source)
}

func TestPrefilterSkipStoresUnscoredLead(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{
		{OrgName: "Department of Transportation", Title: "Road resurfacing", Summary: "Paving."},
	}})
	pf := qualify.Prefilter{
		Next:     scoreAll(0.9),
		Keywords: qualify.Keywords{Government: []string{"department of "}, Intent: []string{"digital"}},
	}
	c := NewCoordinator(db, reg, pf, Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, 1, run.New)
	assert.Zero(t, run.Qualified)
	assert.Empty(t, run.Errors)

	page, err := db.ListLeads(ctx, store.ListLeadsOpts{IncludeGovernment: true})
	require.NoError(t, err)
	require.Len(t, page.Leads, 1)
	assert.True(t, page.Leads[0].IsGovernment)
	assert.Nil(t, page.Leads[0].Confidence)
	assert.True(t, strings.HasPrefix(page.Leads[0].Reasoning, "prefilter: government entity"))
}

type fakeEnricher struct {
	calls atomic.Int32
}

func (f *fakeEnricher) Enrich(_ context.Context, org string) (domain.Enrichment, error) {
	f.calls.Add(1)
	if org != "Riverside Museum" {
		return domain.Enrichment{}, types.ErrNotFound
	}
	rev := int64(250000)
	return domain.Enrichment{EIN: "12-3456789", Revenue: &rev, City: "Riverside", State: "CA"}, nil
}

func TestRunEnrichesWhenSourceAsksForIt(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	require.NoError(t, db.UpsertSourceConfig(ctx, domain.SourceConfig{
		Name: "news", Type: domain.SourceRSSNews, URL: "https://news.example/feed", Active: true,
		Config: map[string]any{"enrich": true},
	}))

	en := &fakeEnricher{}
	reg := scrape.NewRegistry()
	reg.SetEnricher(en)
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{
		opp("Volunteer portal"),
		{OrgName: "Unknown Org", Title: "Grant tracker", Summary: "tracking"},
	}})
	c := NewCoordinator(db, reg, scoreAll(0.7), Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, 2, run.New)
	assert.Empty(t, run.Errors)
	assert.EqualValues(t, 2, en.calls.Load())

	page, err := db.ListLeads(ctx, store.ListLeadsOpts{Search: "Volunteer"})
	require.NoError(t, err)
	require.Len(t, page.Leads, 1)
	assert.Equal(t, "12-3456789", page.Leads[0].OrgEIN)
	assert.Equal(t, "CA", page.Leads[0].OrgState)
}

type recorder struct {
	types []string
}

func (r *recorder) Publish(typ string, _ any) { r.types = append(r.types, typ) }

func TestRunPublishesEvents(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Map tour")}})
	rec := &recorder{}
	c := NewCoordinator(db, reg, scoreAll(0.7), Options{Events: rec})

	_, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"run.started", "lead.created", "run.finished"}, rec.types)
}

func TestRunRecordsMissingCredential(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Archive RFP")}})
	llm := qualify.NewLLM(qualify.Options{
		BaseURL: "http://127.0.0.1:1",
		APIKey:  func() (string, error) { return "", errors.New("keyring: dbus unavailable") },
	})
	c := NewCoordinator(db, reg, llm, Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 1, run.New)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, domain.KindQualification, run.Errors[0].Kind)
	assert.Equal(t, "Archive RFP", run.Errors[0].Item)
	assert.Contains(t, run.Errors[0].Message, "credential")
	assert.Contains(t, run.Errors[0].Message, "dbus unavailable")

	stored, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ErrorsText, "credential")
}

func TestRunDisabledQualifierLeavesNoNote(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "news", domain.SourceRSSNews, "https://news.example/feed")

	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{opp("Archive RFP")}})
	c := NewCoordinator(db, reg, qualify.Disabled{}, Options{})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, 1, run.New)
	assert.Empty(t, run.Errors)
}

func TestConcurrentSourcesInsertSharedOpportunityOnce(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	addSource(t, db, "feed-a", domain.SourceRSSNews, "https://a.example/feed")
	addSource(t, db, "feed-b", domain.SourceWebScrape, "https://b.example/list")

	shared := opp("Shared digitization RFP")
	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, sliceAdapter{items: []domain.RawOpportunity{shared}})
	reg.Register(domain.SourceWebScrape, sliceAdapter{items: []domain.RawOpportunity{shared}})

	// Hold both sources inside the qualifier so each has passed the
	// existence check before either inserts.
	var entered atomic.Int32
	both := make(chan struct{})
	q := qualifierFunc(func(domain.RawOpportunity) (domain.Qualification, error) {
		if entered.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
		case <-time.After(2 * time.Second):
		}
		return domain.Qualification{Confidence: 0.9, Reasoning: "strong"}, nil
	})
	c := NewCoordinator(db, reg, q, Options{FetchWorkers: 2})

	run, err := c.Run(ctx, RunRequest{Manual: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), entered.Load())
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.RunCounts{Found: 2, New: 1, Qualified: 1}, run.RunCounts)
	assert.Empty(t, run.Errors)

	page, err := db.ListLeads(ctx, store.ListLeadsOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}
