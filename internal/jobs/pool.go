// Package jobs runs long computations asynchronously on a bounded worker
// pool and tracks them through their lifecycle.
package jobs

import (
	"runtime"
	"sync"
	"sync/atomic"

	qerrors "quantcrux/internal/errors"
)

// WorkerPool manages a fixed set of workers draining a bounded task queue.
type WorkerPool struct {
	workers    int
	taskQueue  chan func()
	wg         sync.WaitGroup
	mu         sync.RWMutex // guards sends against Stop closing the queue
	running    atomic.Bool
	tasksTotal atomic.Uint64
	tasksDone  atomic.Uint64
}

// NewWorkerPool creates a pool. Zero workers defaults to runtime.NumCPU()
// and a zero queue size to 100 slots per worker.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 100
	}
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(), queueSize),
	}
}

// Start starts the workers. Calling Start twice is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Swap(true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		task()
		p.tasksDone.Add(1)
	}
}

// Submit enqueues a task without blocking.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running.Load() {
		return qerrors.ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.tasksTotal.Add(1)
		return nil
	default:
		return qerrors.ErrQueueFull
	}
}

// Stop closes the queue and waits for workers to finish queued tasks.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running.Swap(false) {
		p.mu.Unlock()
		return
	}
	close(p.taskQueue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Running:    p.running.Load(),
		TasksTotal: p.tasksTotal.Load(),
		TasksDone:  p.tasksDone.Load(),
		QueueLen:   len(p.taskQueue),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers    int
	Running    bool
	TasksTotal uint64
	TasksDone  uint64
	QueueLen   int
}
