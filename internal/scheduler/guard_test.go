package scheduler

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/poll"
	"leadscout-engine/internal/scrape"
	"leadscout-engine/internal/store"
)

type gatedAdapter struct {
	started chan struct{}
	release chan struct{}
}

func (gatedAdapter) Name() string { return "gated" }

func (a gatedAdapter) Fetch(ctx context.Context, _ domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error] {
	return func(yield func(domain.RawOpportunity, error) bool) {
		close(a.started)
		select {
		case <-a.release:
		case <-ctx.Done():
		}
	}
}

func TestConcurrentTriggerCreatesOneRunRow(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open("scheduler_guard?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.UpsertSourceConfig(ctx, domain.SourceConfig{
		Name: "feed", Type: domain.SourceRSSNews, URL: "https://feed.example/rss", Active: true,
	}))

	a := gatedAdapter{started: make(chan struct{}), release: make(chan struct{})}
	reg := scrape.NewRegistry()
	reg.Register(domain.SourceRSSNews, a)
	s := New(poll.NewCoordinator(db, reg, nil, poll.Options{}), Options{})

	ch, err := s.Trigger(ctx, poll.RunRequest{Manual: true})
	require.NoError(t, err)
	<-a.started

	_, err = s.Trigger(ctx, poll.RunRequest{Manual: true})
	require.ErrorIs(t, err, ErrRunInProgress)

	close(a.release)
	res := <-ch
	require.NoError(t, res.Err)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, domain.RunCompleted, runs[0].Status)
}
