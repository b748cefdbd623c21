package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/jobctx"
	"github.com/jdziat/docpipeline/pkg/queue"
	"github.com/jdziat/docpipeline/pkg/retry"
)

// ErrPoolClosed is returned by Submit once shutdown has begun.
var ErrPoolClosed = errors.New("worker: pool closed")

// commitTimeout bounds a store commit that outlives a forced shutdown.
const commitTimeout = 10 * time.Second

// Pool executes claimed jobs on a bounded number of slots.
type Pool struct {
	store    core.Store
	registry *handler.Registry
	enqueuer core.Enqueuer
	config   WorkerConfig

	sem    *semaphore.Weighted
	jobs   chan *core.Job
	active atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewPool creates a pool. Follow-up jobs returned by handlers are submitted
// through enqueuer.
func NewPool(store core.Store, registry *handler.Registry, enqueuer core.Enqueuer, opts ...WorkerOption) *Pool {
	config := DefaultWorkerConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	return &Pool{
		store:    store,
		registry: registry,
		enqueuer: enqueuer,
		config:   config,
		sem:      semaphore.NewWeighted(int64(config.Concurrency)),
		jobs:     make(chan *core.Job, config.Concurrency),
	}
}

// WorkerID returns the identity the pool's claims are recorded under.
func (p *Pool) WorkerID() string {
	return p.config.WorkerID
}

// Concurrency returns the number of execution slots.
func (p *Pool) Concurrency() int {
	return p.config.Concurrency
}

// Active returns the number of jobs currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Reserve blocks until at least one slot is free, then takes up to max free
// slots and returns how many it took. Every reserved slot must be handed
// back through Submit or Release.
func (p *Pool) Reserve(ctx context.Context, max int) (int, error) {
	if max < 1 {
		return 0, nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	n := 1
	for n < max && p.sem.TryAcquire(1) {
		n++
	}
	return n, nil
}

// Release returns n reserved slots that will not be used.
func (p *Pool) Release(n int) {
	if n > 0 {
		p.sem.Release(int64(n))
	}
}

// Submit hands a claimed job to the pool, consuming one reserved slot.
// It never blocks. After shutdown begins it returns ErrPoolClosed and the
// slot is released; the job's claim is left to go stale.
func (p *Pool) Submit(job *core.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.sem.Release(1)
		return ErrPoolClosed
	}
	p.jobs <- job
	return nil
}

// Run starts the execution loops and blocks until ctx is done and the pool
// has drained. Handlers still running after the shutdown grace period have
// their context cancelled.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("worker: pool already running")
	}
	p.started = true
	p.mu.Unlock()

	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.processLoop(execCtx)
	}
	p.config.Logger.Info("worker pool started",
		"worker_id", p.config.WorkerID,
		"concurrency", p.config.Concurrency)

	<-ctx.Done()

	p.mu.Lock()
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	grace := time.NewTimer(p.config.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-drained:
		p.config.Logger.Info("worker pool drained", "worker_id", p.config.WorkerID)
	case <-grace.C:
		p.config.Logger.Warn("shutdown grace period elapsed, cancelling running jobs",
			"worker_id", p.config.WorkerID,
			"active", p.Active())
		cancelExec()
		<-drained
	}
	return ctx.Err()
}

func (p *Pool) processLoop(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.processJob(ctx, job)
	}
}

func (p *Pool) processJob(ctx context.Context, job *core.Job) {
	defer p.sem.Release(1)
	p.active.Add(1)
	defer p.active.Add(-1)

	logger := p.config.Logger.With(
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt", job.AttemptCount+1,
		"worker_id", p.config.WorkerID,
	)

	reg, ok := p.registry.Lookup(job.Kind)
	if !ok {
		logger.Error("no handler registered for job kind")
		p.exhaust(ctx, job, fmt.Errorf("%w: %s", core.ErrUnknownJobKind, job.Kind), logger)
		return
	}

	err := p.storeCall(ctx, func(c context.Context) error {
		return p.store.MarkRunning(c, job.ID, job.ClaimToken)
	})
	if err != nil {
		if errors.Is(err, core.ErrClaimLost) {
			logger.Info("claim lost before start, skipping")
		} else {
			logger.Error("failed to mark job running", "error", err)
		}
		return
	}
	job.State = core.StateRunning
	logger.Debug("job started")

	start := time.Now()
	result, err := p.executeHandler(ctx, job, reg, logger)
	duration := time.Since(start)

	if err != nil && ctx.Err() != nil {
		logger.Warn("job interrupted by shutdown, leaving claim to expire",
			"duration", duration, "error", err)
		return
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	if err != nil {
		p.handleError(commitCtx, job, err, logger)
		return
	}

	err = p.storeCall(commitCtx, func(c context.Context) error {
		return p.store.MarkSucceeded(c, job.ID, job.ClaimToken)
	})
	if err != nil {
		if errors.Is(err, core.ErrClaimLost) {
			logger.Warn("claim lost before success was recorded", "duration", duration)
		} else {
			logger.Error("failed to mark job succeeded", "error", err)
		}
		return
	}
	job.State = core.StateSucceeded
	logger.Info("job succeeded", "duration", duration)

	p.enqueueFollowUps(commitCtx, result.FollowUps, logger)
}

func (p *Pool) executeHandler(ctx context.Context, job *core.Job, reg handler.Registration, logger *slog.Logger) (result handler.Result, err error) {
	runCtx, cancel := context.WithTimeout(ctx, reg.Timeout)
	defer cancel()
	runCtx = jobctx.With(runCtx, &jobctx.Info{Job: job, WorkerID: p.config.WorkerID, Logger: p.config.Logger})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	result, err = reg.Handler.Handle(runCtx, job)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", reg.Timeout, err)
	}
	return result, err
}

func (p *Pool) handleError(ctx context.Context, job *core.Job, jobErr error, logger *slog.Logger) {
	var noRetry *core.NoRetryError
	if errors.As(jobErr, &noRetry) {
		p.exhaust(ctx, job, jobErr, logger)
		return
	}

	attempt := job.AttemptCount + 1
	delay := p.config.Policy.Delay(attempt)
	var retryAfter *core.RetryAfterError
	if errors.As(jobErr, &retryAfter) {
		delay = retryAfter.Delay
	}
	next := p.config.Now().Add(delay)

	var state core.State
	err := p.storeCall(ctx, func(c context.Context) error {
		var markErr error
		state, markErr = p.store.MarkFailed(c, job.ID, job.ClaimToken, jobErr.Error(), next)
		return markErr
	})
	if err != nil {
		if errors.Is(err, core.ErrClaimLost) {
			logger.Warn("claim lost before failure was recorded", "error", jobErr)
		} else {
			logger.Error("failed to mark job failed", "error", err, "job_error", jobErr)
		}
		return
	}

	job.State = state
	if state == core.StateExhausted {
		logger.Error("job exhausted", "error", jobErr)
		return
	}
	logger.Warn("job failed, retry scheduled", "error", jobErr, "next_attempt_at", next)
}

func (p *Pool) exhaust(ctx context.Context, job *core.Job, jobErr error, logger *slog.Logger) {
	err := p.storeCall(ctx, func(c context.Context) error {
		return p.store.MarkExhausted(c, job.ID, job.ClaimToken, jobErr.Error())
	})
	if err != nil {
		if errors.Is(err, core.ErrClaimLost) {
			logger.Warn("claim lost before exhaustion was recorded", "error", jobErr)
		} else {
			logger.Error("failed to mark job exhausted", "error", err, "job_error", jobErr)
		}
		return
	}
	job.State = core.StateExhausted
	logger.Error("job exhausted without retry", "error", jobErr)
}

// enqueueFollowUps submits follow-ups after the parent committed. A follow-up
// that cannot be enqueued is logged and dropped.
func (p *Pool) enqueueFollowUps(ctx context.Context, followUps []handler.FollowUp, logger *slog.Logger) {
	if p.enqueuer == nil {
		return
	}
	for _, f := range followUps {
		var id string
		err := p.storeCall(ctx, func(c context.Context) error {
			var enqErr error
			id, enqErr = p.enqueuer.Enqueue(c, f.Kind, f.Payload, queue.FollowUpOptions(f)...)
			return enqErr
		})
		switch {
		case errors.Is(err, core.ErrDuplicateJob):
			logger.Info("follow-up already pending", "follow_up_kind", f.Kind, "unique_key", f.UniqueKey)
		case err != nil:
			logger.Error("failed to enqueue follow-up", "follow_up_kind", f.Kind, "error", err)
		default:
			logger.Info("follow-up enqueued", "follow_up_kind", f.Kind, "follow_up_id", id)
		}
	}
}

func (p *Pool) storeCall(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(ctx, p.config.StoreBackoff, op)
}
