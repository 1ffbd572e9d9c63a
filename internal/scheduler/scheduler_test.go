package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/poll"
)

// gatedRunner blocks each run until release is closed.
type gatedRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (g *gatedRunner) Run(ctx context.Context, req poll.RunRequest) (domain.ScrapeRun, error) {
	n := g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
		return domain.ScrapeRun{ID: int64(n), Status: domain.RunCompleted}, nil
	case <-ctx.Done():
		return domain.ScrapeRun{ID: int64(n), Status: domain.RunFailed}, nil
	}
}

func TestTriggerRejectsWhileRunning(t *testing.T) {
	r := newGatedRunner()
	s := New(r, Options{})

	ch, err := s.Trigger(context.Background(), poll.RunRequest{Manual: true})
	require.NoError(t, err)
	<-r.started
	assert.True(t, s.Running())
	assert.True(t, s.Status().Running)

	_, err = s.Trigger(context.Background(), poll.RunRequest{Manual: true})
	require.ErrorIs(t, err, ErrRunInProgress)

	close(r.release)
	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, domain.RunCompleted, res.Run.Status)
	assert.EqualValues(t, 1, r.calls.Load())
	assert.False(t, s.Running())

	st := s.Status()
	require.NotNil(t, st.LastRun)
	assert.EqualValues(t, 1, st.LastRun.ID)

	run, err := s.RunNow(context.Background(), poll.RunRequest{Manual: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, run.ID)
}

func TestTriggerRespectsLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	other := flock.New(path)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	r := newGatedRunner()
	close(r.release)
	s := New(r, Options{LockPath: path})

	_, err = s.Trigger(context.Background(), poll.RunRequest{})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.False(t, s.Running())
	assert.Zero(t, r.calls.Load())

	require.NoError(t, other.Unlock())
	run, err := s.RunNow(context.Background(), poll.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestTickSkipsWhenBusy(t *testing.T) {
	r := newGatedRunner()
	s := New(r, Options{})

	s.tick()
	<-r.started
	s.tick()
	assert.EqualValues(t, 1, r.calls.Load())

	close(r.release)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
}

func TestStartRunsImmediatelyAndStopWaits(t *testing.T) {
	r := newGatedRunner()
	s := New(r, Options{Interval: time.Hour, RunOnStart: true})
	require.NoError(t, s.Start(context.Background()))
	<-r.started

	st := s.Status()
	require.NotNil(t, st.NextRunAt)
	assert.True(t, st.NextRunAt.After(time.Now()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(r.release)
	}()
	require.NoError(t, s.Stop(context.Background()))
	require.NotNil(t, s.Status().LastRun)
	assert.Equal(t, domain.RunCompleted, s.Status().LastRun.Status)
}

func TestStopCancelsRunAfterDeadline(t *testing.T) {
	r := newGatedRunner()
	s := New(r, Options{})
	_, err := s.Trigger(context.Background(), poll.RunRequest{})
	require.NoError(t, err)
	<-r.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	assert.Equal(t, domain.RunFailed, s.Status().LastRun.Status)
}

func TestTriggerAfterStopIsRejected(t *testing.T) {
	r := newGatedRunner()
	s := New(r, Options{})
	require.NoError(t, s.Stop(context.Background()))

	_, err := s.Trigger(context.Background(), poll.RunRequest{Manual: true})
	require.ErrorIs(t, err, ErrStopped)
	assert.Zero(t, r.calls.Load())
	assert.False(t, s.Status().Running)
	assert.Nil(t, s.Status().LastRun)
}
