// Package scheduler owns the periodic trigger and the single-run guard.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/poll"
)

// ErrRunInProgress rejects a trigger while another run is active, in this
// process or in another one holding the lock file.
var ErrRunInProgress = errors.New("run in progress")

// ErrStopped rejects triggers once Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

type Runner interface {
	Run(ctx context.Context, req poll.RunRequest) (domain.ScrapeRun, error)
}

type Options struct {
	Interval   time.Duration
	RunOnStart bool
	// LockPath enables cross-process exclusion when set.
	LockPath string
	Logger   *slog.Logger
}

// Result is delivered once a triggered run finishes.
type Result struct {
	Run domain.ScrapeRun
	Err error
}

type Status struct {
	Running   bool              `json:"running"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	NextRunAt *time.Time        `json:"next_run_at,omitempty"`
	LastRun   *domain.ScrapeRun `json:"last_run,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

type Service struct {
	runner Runner
	opts   Options
	log    *slog.Logger
	lock   *flock.Flock

	running atomic.Bool
	wg      sync.WaitGroup

	// gate orders wg.Add in Trigger against the stopped flag set by Stop.
	gate    sync.Mutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron
	entry  cron.EntryID

	mu        sync.Mutex
	startedAt time.Time
	last      *domain.ScrapeRun
	lastErr   string
}

func New(r Runner, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		runner: r,
		opts:   opts,
		log:    log.With("component", "scheduler"),
	}
	if opts.LockPath != "" {
		s.lock = flock.New(opts.LockPath)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start schedules periodic runs. Runs outlive ctx's request scope; they
// are only cancelled by Stop.
func (s *Service) Start(ctx context.Context) error {
	if s.opts.Interval > 0 {
		s.cron = cron.New(cron.WithLogger(cronLogger{s.log}))
		s.entry = s.cron.Schedule(cron.Every(s.opts.Interval), cron.FuncJob(s.tick))
		s.cron.Start()
		s.log.Info("scheduler started", "interval", s.opts.Interval.String())
	} else {
		s.log.Info("scheduler started without periodic runs")
	}

	if s.opts.RunOnStart {
		if _, err := s.Trigger(ctx, poll.RunRequest{}); err != nil {
			return fmt.Errorf("run on start: %w", err)
		}
	}
	return nil
}

// Stop halts the periodic trigger and waits for the in-flight run. When
// ctx expires first the run is cancelled and Stop still waits for it to
// record its outcome.
func (s *Service) Stop(ctx context.Context) error {
	s.gate.Lock()
	s.stopped = true
	s.gate.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.log.Warn("cancelling in-flight run")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Trigger starts a run in the background. It fails fast with
// ErrRunInProgress when a run is active and with ErrStopped after Stop; no
// run record is created then.
func (s *Service) Trigger(_ context.Context, req poll.RunRequest) (<-chan Result, error) {
	s.gate.Lock()
	if s.stopped {
		s.gate.Unlock()
		return nil, ErrStopped
	}
	if err := s.acquire(); err != nil {
		s.gate.Unlock()
		return nil, err
	}
	s.wg.Add(1)
	s.gate.Unlock()

	out := make(chan Result, 1)
	go func() {
		defer s.wg.Done()
		run, err := s.runner.Run(s.ctx, req)
		s.finish(run, err)
		s.release()
		out <- Result{Run: run, Err: err}
		close(out)
	}()
	return out, nil
}

// RunNow triggers a run and waits for it. If ctx ends first the run keeps
// going and ctx's error is returned.
func (s *Service) RunNow(ctx context.Context, req poll.RunRequest) (domain.ScrapeRun, error) {
	ch, err := s.Trigger(ctx, req)
	if err != nil {
		return domain.ScrapeRun{}, err
	}
	select {
	case res := <-ch:
		return res.Run, res.Err
	case <-ctx.Done():
		return domain.ScrapeRun{}, ctx.Err()
	}
}

func (s *Service) Running() bool { return s.running.Load() }

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running.Load(), LastRun: s.last, LastError: s.lastErr}
	if st.Running && !s.startedAt.IsZero() {
		at := s.startedAt
		st.StartedAt = &at
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	return st
}

func (s *Service) tick() {
	if _, err := s.Trigger(s.ctx, poll.RunRequest{}); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.log.Info("scheduled run skipped; previous run still active")
			return
		}
		if errors.Is(err, ErrStopped) {
			return
		}
		s.log.Error("scheduled run not started", "err", err)
	}
}

func (s *Service) acquire() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			s.running.Store(false)
			return fmt.Errorf("lock %s: %w", s.opts.LockPath, err)
		}
		if !ok {
			s.running.Store(false)
			return ErrRunInProgress
		}
	}
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

func (s *Service) release() {
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("unlock run lock", "path", s.opts.LockPath, "err", err)
		}
	}
	s.running.Store(false)
}

func (s *Service) finish(run domain.ScrapeRun, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID != 0 {
		r := run
		s.last = &r
	}
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
		s.log.Error("run failed", "run_id", run.ID, "err", err)
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kv, "err", err)...)
}
