// Package poll runs one ingestion pass over the configured sources.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/events"
	"leadscout-engine/internal/qualify"
	"leadscout-engine/internal/scrape/types"
)

// Store is the persistence the coordinator needs.
type Store interface {
	ListActiveSourceConfigs(ctx context.Context, dueOnly bool, now time.Time) ([]domain.SourceConfig, error)
	LeadExists(ctx context.Context, hash string) (bool, error)
	InsertLeadIfAbsent(ctx context.Context, l *domain.Lead) (bool, error)
	UpdateLeadEnrichment(ctx context.Context, id int64, e domain.Enrichment) error
	CreateScrapeRun(ctx context.Context, sourceType, sourceName *string) (int64, error)
	FinalizeScrapeRun(ctx context.Context, id int64, c domain.RunCounts, errs []domain.RunError, status domain.RunStatus) error
	MarkSourceScraped(ctx context.Context, name string, ts time.Time) error
}

// Adapters resolves a source type to its adapter.
type Adapters interface {
	Adapter(t domain.SourceType) (types.Adapter, bool)
	Enricher() types.Enricher
}

type Publisher interface {
	Publish(typ string, data any)
}

type Options struct {
	FetchWorkers int
	RunTimeout   time.Duration
	// Threshold is the confidence a new lead must exceed to count as qualified.
	Threshold float64
	Taxonomy  []domain.Service
	Events    Publisher
	Logger    *slog.Logger
}

const DefaultThreshold = 0.6

// RunRequest selects what a run covers. Manual runs take every active
// source; scheduled runs only the ones that are due. Sources, when set,
// narrows the run to those names.
type RunRequest struct {
	Manual  bool
	Sources []string
}

// CoordinatorFault aborts a run: persistence failed or an invariant broke.
type CoordinatorFault struct {
	RunID int64
	Op    string
	Err   error
}

func (f *CoordinatorFault) Error() string {
	if f.RunID > 0 {
		return fmt.Sprintf("run %d: %s: %v", f.RunID, f.Op, f.Err)
	}
	return fmt.Sprintf("run: %s: %v", f.Op, f.Err)
}

func (f *CoordinatorFault) Unwrap() error { return f.Err }

type Coordinator struct {
	store     Store
	adapters  Adapters
	qualifier qualify.Qualifier
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	statuses map[string]types.SourceStatus
}

func NewCoordinator(store Store, adapters Adapters, q qualify.Qualifier, opts Options) *Coordinator {
	if opts.FetchWorkers < 1 {
		opts.FetchWorkers = 4
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if len(opts.Taxonomy) == 0 {
		opts.Taxonomy = domain.DefaultTaxonomy()
	}
	if q == nil {
		q = qualify.Disabled{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:     store,
		adapters:  adapters,
		qualifier: q,
		opts:      opts,
		log:       log.With("component", "poll"),
		now:       time.Now,
		statuses:  map[string]types.SourceStatus{},
	}
}

// SetQualifier swaps the qualifier used by later runs.
func (c *Coordinator) SetQualifier(q qualify.Qualifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qualifier = q
}

// SourceStatuses reports the last outcome per source, ordered by name.
func (c *Coordinator) SourceStatuses() []types.SourceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.SourceStatus, 0, len(c.statuses))
	for _, s := range c.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// tally accumulates counts and non-fatal errors across source goroutines.
type tally struct {
	found, added, qualified atomic.Int64

	mu   sync.Mutex
	errs []domain.RunError
}

func (t *tally) fail(e domain.RunError) {
	t.mu.Lock()
	t.errs = append(t.errs, e)
	t.mu.Unlock()
}

func (t *tally) counts() domain.RunCounts {
	return domain.RunCounts{
		Found:     int(t.found.Load()),
		New:       int(t.added.Load()),
		Qualified: int(t.qualified.Load()),
	}
}

func (t *tally) list() []domain.RunError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.errs)
}

// Run executes one ingestion pass and returns the finalized run record.
// Per-source and per-item failures are recorded on the run; only a
// *CoordinatorFault is returned as an error.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (domain.ScrapeRun, error) {
	started := c.now()

	sources, err := c.store.ListActiveSourceConfigs(ctx, !req.Manual, started)
	if err != nil {
		fault := &CoordinatorFault{Op: "list sources", Err: err}
		return c.abort(ctx, fault), fault
	}

	var t tally
	sources = c.selectSources(sources, req.Sources, &t)

	var sourceType, sourceName *string
	if len(sources) == 1 {
		st, sn := string(sources[0].Type), sources[0].Name
		sourceType, sourceName = &st, &sn
	}
	runID, err := c.store.CreateScrapeRun(ctx, sourceType, sourceName)
	if err != nil {
		return domain.ScrapeRun{Status: domain.RunFailed}, &CoordinatorFault{Op: "create run", Err: err}
	}

	run := domain.ScrapeRun{
		ID:         runID,
		StartedAt:  started.UTC(),
		SourceType: sourceType,
		SourceName: sourceName,
		Status:     domain.RunRunning,
	}
	c.publish(events.RunStarted, run)
	c.log.Info("run started", "run_id", runID, "manual", req.Manual, "sources", len(sources))

	runCtx := ctx
	if c.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.opts.RunTimeout)
		defer cancel()
	}

	c.mu.Lock()
	q := c.qualifier
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(c.opts.FetchWorkers)
	for _, src := range sources {
		g.Go(func() error {
			return c.runSource(gctx, runID, src, q, &t)
		})
	}
	fault := g.Wait()

	run.Status = domain.RunCompleted
	switch {
	case fault != nil:
		run.Status = domain.RunFailed
		t.fail(domain.RunError{Source: "run", Kind: domain.KindInternal, Message: fault.Error()})
	case runCtx.Err() != nil:
		run.Status = domain.RunFailed
		t.fail(domain.RunError{Source: "run", Kind: domain.KindCancelled, Message: "cancelled: " + context.Cause(runCtx).Error()})
	}

	run.RunCounts = t.counts()
	run.Errors = t.list()
	run.ErrorsText = domain.FormatRunErrors(run.Errors)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.store.FinalizeScrapeRun(fctx, runID, run.RunCounts, run.Errors, run.Status); err != nil {
		run.Status = domain.RunFailed
		if fault == nil {
			fault = &CoordinatorFault{RunID: runID, Op: "finalize run", Err: err}
		} else {
			c.log.Error("finalize failed run", "run_id", runID, "err", err)
		}
	}
	done := c.now().UTC()
	run.CompletedAt = &done

	c.publish(events.RunFinished, run)
	c.log.Info("run finished",
		"run_id", runID,
		"status", run.Status,
		"found", run.Found,
		"new", run.New,
		"qualified", run.Qualified,
		"errors", len(run.Errors),
		"took", done.Sub(started.UTC()).Round(time.Millisecond),
	)

	var cf *CoordinatorFault
	if errors.As(fault, &cf) {
		if cf.RunID == 0 {
			cf.RunID = runID
		}
		return run, cf
	}
	if fault != nil {
		return run, &CoordinatorFault{RunID: runID, Op: "run", Err: fault}
	}
	return run, nil
}

// abort records a run that failed before any source was touched. The
// store is probably unavailable, so this is best effort.
func (c *Coordinator) abort(ctx context.Context, fault *CoordinatorFault) domain.ScrapeRun {
	run := domain.ScrapeRun{StartedAt: c.now().UTC(), Status: domain.RunFailed}
	run.Errors = []domain.RunError{{Source: "run", Kind: domain.KindInternal, Message: fault.Error()}}
	run.ErrorsText = domain.FormatRunErrors(run.Errors)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	id, err := c.store.CreateScrapeRun(bctx, nil, nil)
	if err != nil {
		c.log.Error("record failed run", "err", err, "cause", fault.Err)
		return run
	}
	run.ID = id
	fault.RunID = id
	if err := c.store.FinalizeScrapeRun(bctx, id, domain.RunCounts{}, run.Errors, domain.RunFailed); err != nil {
		c.log.Error("finalize failed run", "run_id", id, "err", err)
	}
	return run
}

func (c *Coordinator) selectSources(all []domain.SourceConfig, names []string, t *tally) []domain.SourceConfig {
	if len(names) == 0 {
		return all
	}
	byName := make(map[string]domain.SourceConfig, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}
	out := make([]domain.SourceConfig, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			t.fail(domain.RunError{Source: n, Kind: domain.KindInternal, Message: "source is unknown, inactive or not due"})
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Coordinator) publish(typ string, data any) {
	if c.opts.Events != nil {
		c.opts.Events.Publish(typ, data)
	}
}

func (c *Coordinator) recordStatus(name string, at time.Time, found, added int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.statuses[name]
	st.Source = name
	st.Record(at, found, added, err)
	c.statuses[name] = st
}
