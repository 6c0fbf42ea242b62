package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolStopped is returned by Submit after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// ErrQueueFull is returned by Submit when the queue has no free slot
var ErrQueueFull = errors.New("worker queue full")

// ExecutorFunc dispatches a job and returns the started job id
type ExecutorFunc func(ctx context.Context, job Job) (string, error)

// ResultFunc receives every finished job
type ResultFunc func(Result)

// WorkerPool runs jobs on a fixed number of goroutines
type WorkerPool struct {
	workers    int
	jobs       chan Job
	executorFn ExecutorFunc
	onResult   ResultFunc
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	mu      sync.RWMutex
	stopped bool

	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int, jobQueueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if jobQueueSize < 0 {
		jobQueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers: workers,
		jobs:    make(chan Job, jobQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetExecutor sets the function that processes jobs. Call before Start.
func (wp *WorkerPool) SetExecutor(fn ExecutorFunc) {
	wp.executorFn = fn
}

// OnResult registers a callback for finished jobs. Call before Start.
func (wp *WorkerPool) OnResult(fn ResultFunc) {
	wp.onResult = fn
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() {
	slog.Info("Starting worker pool", "workers", wp.workers, "queue_size", cap(wp.jobs))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains queued jobs and waits for the workers.
// When ctx expires first, in-flight dispatches are cancelled.
func (wp *WorkerPool) Stop(ctx context.Context) {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	slog.Info("Stopping worker pool", "queued", len(wp.jobs))

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timeout draining worker pool, cancelling in-flight jobs")
		wp.cancel()
		<-done
	}
	wp.cancel()

	slog.Info("Worker pool stopped",
		"succeeded", wp.succeeded.Load(),
		"failed", wp.failed.Load(),
	)
}

// Submit queues a job without blocking
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	select {
	case wp.jobs <- job:
		slog.Debug("Job submitted to worker pool",
			"location_id", job.LocationID,
			"correlation_id", job.CorrelationID,
		)
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLength returns the number of queued jobs
func (wp *WorkerPool) QueueLength() int {
	return len(wp.jobs)
}

// Counts returns how many jobs succeeded and failed so far
func (wp *WorkerPool) Counts() (succeeded, failed int64) {
	return wp.succeeded.Load(), wp.failed.Load()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	slog.Debug("Worker started", "worker_id", id)

	for job := range wp.jobs {
		wp.run(id, job)
	}

	slog.Debug("Worker stopped", "worker_id", id)
}

func (wp *WorkerPool) run(id int, job Job) {
	start := time.Now()
	result := Result{Job: job}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Worker recovered from panic",
					"worker_id", id,
					"location_id", job.LocationID,
					"panic", rec,
				)
				result.Err = errors.New("dispatch panicked")
			}
		}()
		if wp.executorFn == nil {
			result.Err = errors.New("no executor configured")
			return
		}
		result.JobID, result.Err = wp.executorFn(wp.ctx, job)
	}()
	result.Duration = time.Since(start)

	if result.Err != nil {
		wp.failed.Add(1)
	} else {
		wp.succeeded.Add(1)
	}
	if wp.onResult != nil {
		wp.onResult(result)
	}
}
