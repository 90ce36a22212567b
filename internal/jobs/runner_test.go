package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/logging"
)

func waitFor(t *testing.T, r *Runner, id string) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := r.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, snap.Status.Terminal(), "job still %s", snap.Status)
	return snap
}

// blocker returns a job that signals when started and runs until released
// or cancelled.
func blocker(started chan<- struct{}, release <-chan struct{}) Func {
	return func(ctx context.Context, progress func(float64)) (any, error) {
		close(started)
		progress(50)
		select {
		case <-release:
			return "released", nil
		case <-ctx.Done():
			return "partial", ctx.Err()
		}
	}
}

func TestSubmitAndComplete(t *testing.T) {
	r := NewRunner(2, 10, zerolog.Nop())
	defer r.Stop()

	h, err := r.Submit("backtest", "AAPL", func(ctx context.Context, progress func(float64)) (any, error) {
		progress(40)
		progress(80)
		return 42, nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)

	snap := waitFor(t, r, h.ID)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 42, snap.Result)
	assert.Equal(t, 100.0, snap.Progress)
	assert.False(t, snap.StartedAt.IsZero())
	assert.False(t, snap.CompletedAt.Before(snap.StartedAt))
}

func TestFailedJobKeepsPartialResult(t *testing.T) {
	r := NewRunner(1, 10, zerolog.Nop())
	defer r.Stop()

	h, err := r.Submit("backtest", "AAPL", func(ctx context.Context, _ func(float64)) (any, error) {
		return "partial", qerrors.ErrInsufficientData
	})
	require.NoError(t, err)

	snap := waitFor(t, r, h.ID)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.ErrorIs(t, snap.Err, qerrors.ErrInsufficientData)
	assert.Equal(t, "partial", snap.Result)
	assert.NotEmpty(t, snap.Error)
}

func TestPanicBecomesFailure(t *testing.T) {
	r := NewRunner(1, 10, zerolog.Nop())
	defer r.Stop()

	h, err := r.Submit("pricing", "P1", func(ctx context.Context, _ func(float64)) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)

	snap := waitFor(t, r, h.ID)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "boom")

	// the worker survives the panic
	h, err = r.Submit("pricing", "P1", func(ctx context.Context, _ func(float64)) (any, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitFor(t, r, h.ID).Status)
}

func TestCancelRunningJob(t *testing.T) {
	r := NewRunner(1, 10, zerolog.Nop())
	defer r.Stop()

	started := make(chan struct{})
	h, err := r.Submit("backtest", "AAPL", blocker(started, make(chan struct{})))
	require.NoError(t, err)
	<-started

	require.NoError(t, r.Cancel(h.ID))
	snap := waitFor(t, r, h.ID)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, "partial", snap.Result)
	assert.Equal(t, 50.0, snap.Progress)
}

func TestCancelPendingJobNeverStarts(t *testing.T) {
	r := NewRunner(1, 10, zerolog.Nop())
	defer r.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	first, err := r.Submit("backtest", "A", blocker(started, release))
	require.NoError(t, err)
	<-started

	var ran atomic.Bool
	second, err := r.Submit("backtest", "B", func(ctx context.Context, _ func(float64)) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, r.Cancel(second.ID))
	snap, err := r.Poll(second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)

	close(release)
	assert.Equal(t, StatusCompleted, waitFor(t, r, first.ID).Status)
	waitFor(t, r, second.ID)
	assert.False(t, ran.Load())
}

func TestQueueFull(t *testing.T) {
	r := NewRunner(1, 1, zerolog.Nop())
	defer r.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	_, err := r.Submit("backtest", "A", blocker(started, release))
	require.NoError(t, err)
	<-started

	_, err = r.Submit("backtest", "B", func(ctx context.Context, _ func(float64)) (any, error) { return nil, nil })
	require.NoError(t, err)

	_, err = r.Submit("backtest", "C", func(ctx context.Context, _ func(float64)) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, qerrors.ErrQueueFull)
	assert.Len(t, r.List("backtest"), 2)
}

func TestLatestCompletedByCompletionTime(t *testing.T) {
	r := NewRunner(2, 10, zerolog.Nop())
	defer r.Stop()

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	slow, err := r.Submit("pricing", "P1", blocker(slowStarted, release))
	require.NoError(t, err)
	<-slowStarted

	fast, err := r.Submit("pricing", "P1", func(ctx context.Context, _ func(float64)) (any, error) { return "fast", nil })
	require.NoError(t, err)
	waitFor(t, r, fast.ID)

	latest, ok := r.LatestCompleted("pricing", "P1")
	require.True(t, ok)
	assert.Equal(t, fast.ID, latest.ID)

	// the earlier submission finishes last and supersedes
	time.Sleep(2 * time.Millisecond)
	close(release)
	waitFor(t, r, slow.ID)
	latest, ok = r.LatestCompleted("pricing", "P1")
	require.True(t, ok)
	assert.Equal(t, slow.ID, latest.ID)

	_, ok = r.LatestCompleted("pricing", "other")
	assert.False(t, ok)
}

func TestUnknownJob(t *testing.T) {
	r := NewRunner(1, 1, zerolog.Nop())
	defer r.Stop()

	_, err := r.Poll("nope")
	assert.ErrorIs(t, err, qerrors.ErrJobNotFound)
	assert.ErrorIs(t, r.Cancel("nope"), qerrors.ErrJobNotFound)
}

func TestSubmitAfterStop(t *testing.T) {
	r := NewRunner(1, 1, zerolog.Nop())
	r.Stop()

	_, err := r.Submit("backtest", "A", func(ctx context.Context, _ func(float64)) (any, error) { return nil, nil })
	assert.True(t, errors.Is(err, qerrors.ErrPoolStopped))
	assert.False(t, r.Stats().Running)
}

func TestJobContextCarriesJobLogger(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(1, 4, zerolog.New(zerolog.SyncWriter(&buf)))
	defer r.Stop()

	h, err := r.Submit("reprice", "NOTE-1", func(ctx context.Context, _ func(float64)) (any, error) {
		logging.FromContext(ctx).Info().Msg("inside job")
		return nil, nil
	})
	require.NoError(t, err)
	waitFor(t, r, h.ID)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var fields map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &fields))
		if fields["message"] == "inside job" {
			found = true
			assert.Equal(t, h.ID, fields["job_id"])
			assert.Equal(t, "reprice", fields["kind"])
		}
	}
	assert.True(t, found, "job body log line missing: %s", buf.String())
}

func TestRetentionEvictsOldestFinishedJobs(t *testing.T) {
	r := NewRunner(1, 10, zerolog.Nop())
	defer r.Stop()
	r.SetRetention(2)

	done := func(ctx context.Context, _ func(float64)) (any, error) { return "ok", nil }
	fail := func(ctx context.Context, _ func(float64)) (any, error) { return nil, errors.New("boom") }

	kept, err := r.Submit("backtest", "KEEP", done)
	require.NoError(t, err)
	waitFor(t, r, kept.ID)

	var failed []string
	for i := 0; i < 3; i++ {
		h, err := r.Submit("backtest", "X", fail)
		require.NoError(t, err)
		waitFor(t, r, h.ID)
		failed = append(failed, h.ID)
	}

	// the latest completed job per entity survives; the oldest failures go
	require.Eventually(t, func() bool { return len(r.List("")) == 2 }, 2*time.Second, 5*time.Millisecond)
	for _, id := range failed[:2] {
		_, err = r.Poll(id)
		assert.ErrorIs(t, err, qerrors.ErrJobNotFound)
	}
	_, err = r.Poll(failed[2])
	assert.NoError(t, err)
	latest, ok := r.LatestCompleted("backtest", "KEEP")
	require.True(t, ok)
	assert.Equal(t, kept.ID, latest.ID)
}

func TestForget(t *testing.T) {
	r := NewRunner(1, 4, zerolog.Nop())
	defer r.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	h, err := r.Submit("backtest", "AAPL", blocker(started, release))
	require.NoError(t, err)
	<-started

	assert.ErrorIs(t, r.Forget(h.ID), qerrors.ErrJobActive)

	close(release)
	waitFor(t, r, h.ID)
	require.NoError(t, r.Forget(h.ID))
	_, err = r.Poll(h.ID)
	assert.ErrorIs(t, err, qerrors.ErrJobNotFound)
	assert.ErrorIs(t, r.Forget(h.ID), qerrors.ErrJobNotFound)
}
