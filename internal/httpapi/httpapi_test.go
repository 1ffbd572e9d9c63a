package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"leadscout-engine/internal/config"
	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/events"
	"leadscout-engine/internal/poll"
	"leadscout-engine/internal/scheduler"
	"leadscout-engine/internal/store"
)

type fakeRuns struct {
	busy    bool
	stopped bool
	result scheduler.Result
	got    []poll.RunRequest
}

func (f *fakeRuns) Trigger(_ context.Context, req poll.RunRequest) (<-chan scheduler.Result, error) {
	if f.stopped {
		return nil, scheduler.ErrStopped
	}
	if f.busy {
		return nil, scheduler.ErrRunInProgress
	}
	f.got = append(f.got, req)
	ch := make(chan scheduler.Result, 1)
	ch <- f.result
	return ch, nil
}

func (f *fakeRuns) Status() scheduler.Status {
	return scheduler.Status{Running: f.busy}
}

type env struct {
	db   *store.DB
	runs *fakeRuns
	srv  *httptest.Server
	cfg  *atomic.Value
	path string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.Open("httpapi_" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.SaveAtomic(path, config.Default()))
	var cfgVal atomic.Value
	cfgVal.Store(config.Default())

	hub := events.NewHub()
	t.Cleanup(hub.Close)

	e := &env{db: db, runs: &fakeRuns{}, cfg: &cfgVal, path: path}
	e.srv = httptest.NewServer(NewRouter(Deps{
		Store:       db,
		Hub:         hub,
		Runs:        e.runs,
		CfgVal:      &cfgVal,
		UserCfgPath: path,
		LoadCfg:     func() (config.Config, error) { return config.Load(path) },
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *env) seedLead(t *testing.T, hash, title string, gov bool) domain.Lead {
	t.Helper()
	l := domain.NewLead(domain.RawOpportunity{
		OrgName:    "Riverside Literacy Foundation",
		Title:      title,
		Summary:    "Seeking a partner to modernize our donor database.",
		SourceURL:  "https://example.org/" + hash,
		SourceType: domain.SourceRSSRFP,
		SourceName: "example",
	}, hash, 0)
	l.IsGovernment = gov
	ok, err := e.db.InsertLeadIfAbsent(context.Background(), &l)
	require.NoError(t, err)
	require.True(t, ok)
	return l
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "ok", body["db"])
	assert.Equal(t, false, body["running"])
}

func TestRequestIDHeader(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/leads/999", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	apiErr := decode[APIError](t, resp)
	assert.Equal(t, "not_found", apiErr.Error.Code)
	assert.Equal(t, "abc-123", apiErr.Error.RequestID)
}

func TestListLeads(t *testing.T) {
	e := newEnv(t)
	e.seedLead(t, "h1", "Donor CRM replacement", false)
	e.seedLead(t, "h2", "Website redesign RFP", false)
	e.seedLead(t, "h3", "County records system", true)

	resp := e.do(t, http.MethodGet, "/api/leads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[store.LeadPage](t, resp)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, store.DefaultPageSize, page.PageSize)

	resp = e.do(t, http.MethodGet, "/api/leads?search=website", nil)
	page = decode[store.LeadPage](t, resp)
	require.Len(t, page.Leads, 1)
	assert.Equal(t, "Website redesign RFP", page.Leads[0].Title)

	resp = e.do(t, http.MethodGet, "/api/leads?include_government=true&page_size=1", nil)
	page = decode[store.LeadPage](t, resp)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Leads, 1)
}

func TestListLeadsRejectsBadQuery(t *testing.T) {
	e := newEnv(t)
	for _, q := range []string{
		"page=0",
		"page_size=101",
		"min_confidence=1.5",
		"sort_by=title;DROP",
		"sort_order=sideways",
		"status=maybe",
		"source_type=fax",
	} {
		resp := e.do(t, http.MethodGet, "/api/leads?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestGetAndPatchLead(t *testing.T) {
	e := newEnv(t)
	l := e.seedLead(t, "h1", "Donor CRM replacement", false)
	path := "/api/leads/" + strconv.FormatInt(l.ID, 10)

	resp := e.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.Lead](t, resp)
	assert.Equal(t, l.ID, got.ID)
	assert.Equal(t, domain.StatusNew, got.Status)

	resp = e.do(t, http.MethodPatch, path, map[string]any{"status": "reviewing", "notes": "call Tuesday"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decode[domain.Lead](t, resp)
	assert.Equal(t, domain.StatusReviewing, got.Status)
	assert.Equal(t, "call Tuesday", got.Notes)

	resp = e.do(t, http.MethodPatch, path, map[string]any{"status": "new"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPatch, path, map[string]any{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPatch, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPatch, path, map[string]any{"colour": "red"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPatch, "/api/leads/abc", map[string]any{"status": "reviewing"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScrapeRun(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/scrape/run", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["accepted"])

	e.runs.result = scheduler.Result{Run: domain.ScrapeRun{ID: 7, Status: domain.RunCompleted}}
	resp = e.do(t, http.MethodPost, "/api/scrape/run?wait=true&source=a&source=b", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[domain.ScrapeRun](t, resp)
	assert.Equal(t, int64(7), run.ID)
	assert.Equal(t, domain.RunCompleted, run.Status)

	require.Len(t, e.runs.got, 2)
	assert.True(t, e.runs.got[1].Manual)
	assert.Equal(t, []string{"a", "b"}, e.runs.got[1].Sources)

	e.runs.busy = true
	resp = e.do(t, http.MethodPost, "/api/scrape/run", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	apiErr := decode[APIError](t, resp)
	assert.Equal(t, "run_in_progress", apiErr.Error.Code)

	resp = e.do(t, http.MethodGet, "/api/scrape/status", nil)
	st := decode[map[string]any](t, resp)
	assert.Equal(t, true, st["running"])
}

func TestScrapeRunWhileShuttingDown(t *testing.T) {
	e := newEnv(t)
	e.runs.stopped = true

	resp := e.do(t, http.MethodPost, "/api/scrape/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	apiErr := decode[APIError](t, resp)
	assert.Equal(t, "shutting_down", apiErr.Error.Code)
	assert.Empty(t, e.runs.got)
}

func TestScrapeHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for range 3 {
		id, err := e.db.CreateScrapeRun(ctx, nil, nil)
		require.NoError(t, err)
		require.NoError(t, e.db.FinalizeScrapeRun(ctx, id, domain.RunCounts{Found: 1}, nil, domain.RunCompleted))
	}

	resp := e.do(t, http.MethodGet, "/api/scrape/history?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]domain.ScrapeRun](t, resp)
	assert.Len(t, runs, 2)

	resp = e.do(t, http.MethodGet, "/api/scrape/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSourcesPatch(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.UpsertSourceConfig(context.Background(), domain.SourceConfig{
		Name: "philanthropy-news", Type: domain.SourceRSSNews, URL: "https://example.org/feed", Active: true, FrequencyMinutes: 60,
	}))

	resp := e.do(t, http.MethodPatch, "/api/sources/philanthropy-news", map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	src := decode[domain.SourceConfig](t, resp)
	assert.False(t, src.Active)
	assert.Equal(t, 60, src.FrequencyMinutes)

	resp = e.do(t, http.MethodPatch, "/api/sources/missing", map[string]any{"is_active": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPatch, "/api/sources/philanthropy-news", map[string]any{"scrape_frequency_minutes": -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/sources", nil)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, false, list[0]["is_active"])
}

func TestConfigPut(t *testing.T) {
	e := newEnv(t)

	bad := config.Default()
	bad.App.Port = 0
	resp := e.do(t, http.MethodPut, "/api/config", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	vr := decode[config.Validation](t, resp)
	assert.NotEmpty(t, vr.Errors)

	good := config.Default()
	good.Scrape.IntervalMinutes = 120
	resp = e.do(t, http.MethodPut, "/api/config", good)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored := e.cfg.Load().(config.Config)
	assert.Equal(t, 120, stored.Scrape.IntervalMinutes)

	reloaded, err := config.Load(e.path)
	require.NoError(t, err)
	assert.Equal(t, 120, reloaded.Scrape.IntervalMinutes)
}

func TestSecretsLLMKey(t *testing.T) {
	keyring.MockInit()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("LEADSCOUT_ANTHROPIC_API_KEY", "")
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/secrets/llm", map[string]any{"api_key": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/secrets/llm", map[string]any{"api_key": "sk-test"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/secrets/llm", nil)
	assert.Equal(t, true, decode[map[string]any](t, resp)["configured"])

	resp = e.do(t, http.MethodDelete, "/api/secrets/llm", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/secrets/llm", nil)
	assert.Equal(t, false, decode[map[string]any](t, resp)["configured"])
}

func TestSecretsIMAPNeedsEmailConfig(t *testing.T) {
	keyring.MockInit()
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/secrets/imap", map[string]any{"password": "pw"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cfg := config.Default()
	cfg.Email.Username = "alerts@example.org"
	cfg.Email.IMAPHost = "imap.example.org"
	e.cfg.Store(cfg)
	resp = e.do(t, http.MethodPost, "/api/secrets/imap", map[string]any{"password": "pw"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/api/secrets/imap", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDashboardStats(t *testing.T) {
	e := newEnv(t)
	e.seedLead(t, "h1", "Donor CRM replacement", false)

	resp := e.do(t, http.MethodGet, "/api/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[store.DashboardStats](t, resp)
	assert.Equal(t, 1, st.TotalLeads)
	assert.Equal(t, 1, st.LeadsThisWeek)
}

func TestEventsStream(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), `"type":"ping"`)
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
