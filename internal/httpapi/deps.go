package httpapi

import (
	"context"
	"log/slog"
	"sync/atomic"

	"leadscout-engine/internal/config"
	"leadscout-engine/internal/events"
	"leadscout-engine/internal/poll"
	"leadscout-engine/internal/scheduler"
	"leadscout-engine/internal/scrape/types"
	"leadscout-engine/internal/store"
)

// Runs is the run control surface of the scheduler.
type Runs interface {
	Trigger(ctx context.Context, req poll.RunRequest) (<-chan scheduler.Result, error)
	Status() scheduler.Status
}

type Deps struct {
	Store *store.DB
	Hub   *events.Hub
	Runs  Runs

	// SourceStatuses reports per-source outcomes of the latest runs.
	SourceStatuses func() []types.SourceStatus

	CfgVal      *atomic.Value // stores config.Config
	UserCfgPath string
	LoadCfg     func() (config.Config, error)
	// OnConfig is called after a saved config has been reloaded.
	OnConfig func(ctx context.Context, cfg config.Config) error
	// OnLLMKey is called after the LLM API key was stored or removed.
	OnLLMKey func()

	Logger *slog.Logger
}
