package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"leadscout-engine/internal/config"
	"leadscout-engine/internal/events"
	"leadscout-engine/internal/httpapi"
	"leadscout-engine/internal/poll"
	"leadscout-engine/internal/scheduler"
	"leadscout-engine/internal/scrape"
	"leadscout-engine/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("engine stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// LEADSCOUT_DATA_DIR lets a desktop shell pass its own folder.
	dataDir := os.Getenv("LEADSCOUT_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	userCfgPath, err := config.EnsureUserConfig(dataDir, filepath.Join("config", "config.yml"))
	if err != nil {
		return fmt.Errorf("config bootstrap: %w", err)
	}
	loadCfg := func() (config.Config, error) {
		cfg, err := config.Load(userCfgPath)
		if err != nil {
			return cfg, err
		}
		if err := config.OverlaySources(&cfg, filepath.Join(dataDir, "sources.yml")); err != nil {
			return cfg, fmt.Errorf("sources overlay: %w", err)
		}
		norm, vr := config.NormalizeAndValidate(cfg)
		if !vr.OK() {
			return cfg, vr
		}
		return norm, nil
	}
	cfg, err := loadCfg()
	if err != nil {
		return fmt.Errorf("config load (%s): %w", userCfgPath, err)
	}
	var cfgVal atomic.Value // stores config.Config
	cfgVal.Store(cfg)

	log := newLogger(cfg.App.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := filepath.Join(dataDir, "leadscout.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if n, err := db.FailInterruptedRuns(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Warn("marked interrupted runs as failed", "count", n)
	}
	if err := syncSources(ctx, db, cfg); err != nil {
		return err
	}

	hub := events.NewHub()
	defer hub.Close()

	registry := scrape.Build(cfg, scrape.Deps{Logger: log, IMAPPassword: imapPassword(cfg)})
	coord := poll.NewCoordinator(db, registry, buildQualifier(cfg, log), poll.Options{
		FetchWorkers: cfg.Scrape.FetchWorkers,
		RunTimeout:   cfg.RunTimeout(),
		Threshold:    cfg.Qualification.ConfidenceThreshold,
		Taxonomy:     cfg.Taxonomy,
		Events:       hub,
		Logger:       log,
	})

	lockPath := cfg.Scrape.LockFile
	if lockPath == "" {
		lockPath = filepath.Join(dataDir, "run.lock")
	}
	sched := scheduler.New(coord, scheduler.Options{
		Interval:   cfg.Interval(),
		RunOnStart: cfg.Scrape.RunOnStart,
		LockPath:   lockPath,
		Logger:     log,
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}

	onConfig := func(ctx context.Context, next config.Config) error {
		if err := syncSources(ctx, db, next); err != nil {
			return err
		}
		coord.SetQualifier(buildQualifier(next, log))
		log.Info("config applied; adapter and schedule changes take effect after restart")
		return nil
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		Store:          db,
		Hub:            hub,
		Runs:           sched,
		SourceStatuses: coord.SourceStatuses,
		CfgVal:         &cfgVal,
		UserCfgPath:    userCfgPath,
		LoadCfg:        loadCfg,
		OnConfig:       onConfig,
		Logger:         log,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("engine listening", "addr", "http://"+addr, "db", dbPath, "config", userCfgPath)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
		}
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := sched.Stop(shutCtx); err != nil {
		log.Warn("scheduler stop", "err", err)
	}
	return nil
}
