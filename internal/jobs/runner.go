package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is returned by Submit once Shutdown has started
var ErrShuttingDown = errors.New("job runner is shutting down")

// StatusSink receives the terminal status of each job
type StatusSink interface {
	MarkStatus(jobID string, status models.JobStatus, errMsg string) error
}

// Func is a unit of background work
type Func func(ctx context.Context) error

// Runner launches batch jobs on their own goroutines, bounded by an optional
// concurrency limit. Jobs over the limit wait for a free slot.
type Runner struct {
	sink   StatusSink
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner creates a runner. maxConcurrent <= 0 means no limit.
func NewRunner(sink StatusSink, maxConcurrent int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		sink:   sink,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if maxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return r
}

// Submit starts fn in the background and returns immediately. The caller must
// have created the job's progress record already. A nil return from fn marks
// the job complete; an error or panic marks it as failed.
func (r *Runner) Submit(jobID string, fn Func) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(jobID, fn)
	return nil
}

func (r *Runner) run(jobID string, fn Func) {
	defer r.wg.Done()

	if r.sem != nil {
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.finish(jobID, fmt.Errorf("job was not started: %w", err))
			return
		}
		defer r.sem.Release(1)
	}

	r.logger.Info("Starting background job", "job_id", jobID)
	r.finish(jobID, r.call(jobID, fn))
}

// call runs fn, converting a panic into an error so the process survives
func (r *Runner) call(jobID string, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Background job panicked", "job_id", jobID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return fn(r.ctx)
}

func (r *Runner) finish(jobID string, err error) {
	status, msg := models.StatusComplete, ""
	if err != nil {
		status, msg = models.StatusError, err.Error()
		r.logger.Error("Background job failed", "job_id", jobID, "err", err)
	} else {
		r.logger.Info("Background job complete", "job_id", jobID)
	}
	if sinkErr := r.sink.MarkStatus(jobID, status, msg); sinkErr != nil {
		r.logger.Error("Unable to record job status", "job_id", jobID, "err", sinkErr)
	}
}

// Shutdown stops accepting jobs and waits for running ones to finish. If ctx
// expires first the remaining jobs are cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
