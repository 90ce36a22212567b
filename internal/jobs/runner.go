package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/logging"
)

// DefaultRetention is the number of finished jobs a Runner keeps for polling.
const DefaultRetention = 1000

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Func is the body of a job. It reports progress in [0, 100] and may return
// a partial result together with an error. ctx carries a logger tagged with
// the job id and kind; see logging.FromContext.
type Func func(ctx context.Context, progress func(pct float64)) (any, error)

// Handle identifies a submitted job.
type Handle struct {
	ID       string
	Kind     string
	EntityID string
}

// Snapshot is a copy of a job's state at one point in time.
type Snapshot struct {
	ID          string
	Kind        string
	EntityID    string
	Status      Status
	Progress    float64
	Result      any
	Err         error
	Error       string
	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

type job struct {
	Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) copy() Snapshot {
	return j.Snapshot
}

// Runner schedules jobs on a WorkerPool and keeps their state for polling.
// Jobs are never retried. Once more than the retention limit of jobs have
// finished, the oldest are evicted, except the latest completed job of each
// kind and entity.
type Runner struct {
	pool   *WorkerPool
	logger zerolog.Logger

	mu     sync.RWMutex
	jobs   map[string]*job
	retain int
}

// NewRunner creates and starts a runner.
func NewRunner(workers, queueSize int, logger zerolog.Logger) *Runner {
	pool := NewWorkerPool(workers, queueSize)
	pool.Start()
	return &Runner{
		pool:   pool,
		logger: logger,
		jobs:   make(map[string]*job),
		retain: DefaultRetention,
	}
}

// SetRetention bounds how many finished jobs are kept. Values below 1 are
// raised to 1.
func (r *Runner) SetRetention(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	r.retain = n
	r.mu.Unlock()
	r.evict()
}

// Submit queues fn and returns its handle. A full queue fails with
// ErrQueueFull and leaves no job behind.
func (r *Runner) Submit(kind, entityID string, fn Func) (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		Snapshot: Snapshot{
			ID:          uuid.NewString(),
			Kind:        kind,
			EntityID:    entityID,
			Status:      StatusPending,
			SubmittedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	if err := r.pool.Submit(func() { r.run(ctx, j, fn) }); err != nil {
		cancel()
		r.mu.Lock()
		delete(r.jobs, j.ID)
		r.mu.Unlock()
		return Handle{}, qerrors.NewJobError(j.ID, kind, err)
	}

	r.logger.Info().Str("job_id", j.ID).Str("kind", kind).Str("entity_id", entityID).Msg("Job submitted")
	return Handle{ID: j.ID, Kind: kind, EntityID: entityID}, nil
}

// run executes one job on a worker.
func (r *Runner) run(ctx context.Context, j *job, fn Func) {
	defer r.evict()
	defer close(j.done)
	defer j.cancel()

	logger := logging.WithJob(r.logger, j.ID, j.Kind)
	ctx = logging.WithLogger(ctx, logger)

	started := false
	r.updateJob(j.ID, func(s *Snapshot) {
		if s.Status != StatusPending {
			return
		}
		s.Status = StatusRunning
		s.StartedAt = time.Now()
		started = true
	})
	if !started {
		return
	}
	logger.Info().Msg("Job started")

	result, err := r.invoke(ctx, j.ID, fn)

	r.updateJob(j.ID, func(s *Snapshot) {
		s.Result = result
		s.CompletedAt = time.Now()
		switch {
		case err == nil:
			s.Status = StatusCompleted
			s.Progress = 100
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			s.Status = StatusCancelled
			s.Err = err
			s.Error = err.Error()
		default:
			s.Status = StatusFailed
			s.Err = err
			s.Error = err.Error()
		}
	})

	snap, _ := r.Poll(j.ID)
	ev := logger.Info()
	if snap.Status == StatusFailed {
		ev = logger.Warn().Err(err)
	}
	ev.Str("status", string(snap.Status)).
		Dur("duration", snap.CompletedAt.Sub(snap.StartedAt)).
		Msg("Job finished")
}

// invoke calls fn and converts a panic into an error.
func (r *Runner) invoke(ctx context.Context, id string, fn Func) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return fn(ctx, func(pct float64) {
		r.updateJob(id, func(s *Snapshot) {
			if pct > s.Progress {
				s.Progress = pct
			}
		})
	})
}

func (r *Runner) updateJob(id string, fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(&j.Snapshot)
	}
}

// Poll returns the current state of a job.
func (r *Runner) Poll(id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("job %s: %w", id, qerrors.ErrJobNotFound)
	}
	return j.copy(), nil
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (r *Runner) Wait(ctx context.Context, id string) (Snapshot, error) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("job %s: %w", id, qerrors.ErrJobNotFound)
	}
	select {
	case <-j.done:
		return r.Poll(id)
	case <-ctx.Done():
		return r.Poll(id)
	}
}

// Cancel stops a job. A pending job is cancelled before it starts; a
// running job stops at its next cancellation check. Cancelling a finished
// job has no effect.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("job %s: %w", id, qerrors.ErrJobNotFound)
	}
	if j.Status == StatusPending {
		j.Status = StatusCancelled
		j.CompletedAt = time.Now()
		j.Err = context.Canceled
		j.Error = context.Canceled.Error()
	}
	r.mu.Unlock()

	j.cancel()
	r.logger.Info().Str("job_id", id).Msg("Job cancel requested")
	return nil
}

// Forget drops a finished job. Jobs still pending or running fail with
// ErrJobActive.
func (r *Runner) Forget(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, qerrors.ErrJobNotFound)
	}
	if !j.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, j.Status, qerrors.ErrJobActive)
	}
	delete(r.jobs, id)
	return nil
}

// evict drops the oldest finished jobs beyond the retention limit. The
// latest completed job of each kind and entity is kept so LatestCompleted
// keeps answering.
func (r *Runner) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct{ kind, entity string }
	latest := make(map[key]*job)
	var finished []*job
	for _, j := range r.jobs {
		if !j.Status.Terminal() {
			continue
		}
		finished = append(finished, j)
		if j.Status != StatusCompleted {
			continue
		}
		k := key{j.Kind, j.EntityID}
		if best, ok := latest[k]; !ok || j.CompletedAt.After(best.CompletedAt) {
			latest[k] = j
		}
	}
	excess := len(finished) - r.retain
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, k int) bool { return finished[i].CompletedAt.Before(finished[k].CompletedAt) })
	for _, j := range finished {
		if excess == 0 {
			break
		}
		if latest[key{j.Kind, j.EntityID}] == j {
			continue
		}
		delete(r.jobs, j.ID)
		excess--
	}
}

// LatestCompleted returns the most recently completed job of a kind for an
// entity, by completion time.
func (r *Runner) LatestCompleted(kind, entityID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *job
	for _, j := range r.jobs {
		if j.Kind != kind || j.EntityID != entityID || j.Status != StatusCompleted {
			continue
		}
		if best == nil || j.CompletedAt.After(best.CompletedAt) {
			best = j
		}
	}
	if best == nil {
		return Snapshot{}, false
	}
	return best.copy(), true
}

// List returns snapshots of all jobs of a kind, newest submission first.
// An empty kind lists every job.
func (r *Runner) List(kind string) []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.jobs))
	for _, j := range r.jobs {
		if kind == "" || j.Kind == kind {
			out = append(out, j.copy())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.After(out[k].SubmittedAt) })
	return out
}

// Stats returns the underlying pool statistics.
func (r *Runner) Stats() PoolStats {
	return r.pool.Stats()
}

// Stop waits for queued and running jobs to finish.
func (r *Runner) Stop() {
	r.pool.Stop()
}
