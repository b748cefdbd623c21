package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/retry"
)

// Pool is the slot-reserving executor a Dispatcher feeds.
type Pool interface {
	WorkerID() string
	Reserve(ctx context.Context, max int) (int, error)
	Release(n int)
	Submit(job *core.Job) error
}

// Config holds dispatcher configuration.
type Config struct {
	PollInterval      time.Duration
	BatchSize         int
	VisibilityTimeout time.Duration
	ClaimBackoff      retry.Backoff
	Logger            *slog.Logger
	Now               func() time.Time
}

// DefaultConfig returns the configuration used when no option overrides it.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		BatchSize:         10,
		VisibilityTimeout: 5 * time.Minute,
		ClaimBackoff: retry.Backoff{
			MaxAttempts: 3,
			Initial:     500 * time.Millisecond,
			Max:         10 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.2,
		},
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

// Option configures a Dispatcher.
type Option interface {
	applyDispatch(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyDispatch(c *Config) { f(c) }

// PollInterval sets how long an idle dispatcher waits before polling again.
// Zero re-polls immediately; negative values are ignored.
func PollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d >= 0 {
			c.PollInterval = d
		}
	})
}

// BatchSize caps how many jobs one claim may take.
func BatchSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	})
}

// VisibilityTimeout sets how long a claim is honoured before the job may be
// reclaimed.
func VisibilityTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.VisibilityTimeout = d
		}
	})
}

// ClaimBackoff sets how failed claims are retried.
func ClaimBackoff(b retry.Backoff) Option {
	return optionFunc(func(c *Config) {
		c.ClaimBackoff = b
	})
}

// Logger sets the dispatcher's logger.
func Logger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// Clock overrides the time source used to decide whether a new job is due.
func Clock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		c.Now = now
	})
}

// Dispatcher claims due jobs and submits them to a Pool.
type Dispatcher struct {
	store  core.Store
	pool   Pool
	config Config
	wake   chan struct{}
}

// New creates a dispatcher.
func New(store core.Store, pool Pool, opts ...Option) *Dispatcher {
	config := DefaultConfig()
	for _, opt := range opts {
		opt.applyDispatch(&config)
	}
	return &Dispatcher{
		store:  store,
		pool:   pool,
		config: config,
		wake:   make(chan struct{}, 1),
	}
}

// Wake ends the current idle wait early. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// NotifyEnqueued wakes the dispatcher when job is already due. It has the
// signature of a queue enqueue hook.
func (d *Dispatcher) NotifyEnqueued(_ context.Context, job *core.Job) {
	if !job.NotBefore.After(d.config.Now()) {
		d.Wake()
	}
}

// Run dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger := d.config.Logger.With("worker_id", d.pool.WorkerID())
	logger.Info("dispatcher started",
		"poll_interval", d.config.PollInterval,
		"visibility_timeout", d.config.VisibilityTimeout)

	for {
		slots, err := d.pool.Reserve(ctx, d.config.BatchSize)
		if err != nil {
			return ctx.Err()
		}

		claimed, err := d.claim(ctx, slots)
		if err != nil {
			d.pool.Release(slots)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("failed to claim jobs after retries", "error", err)
			if !d.idle(ctx) {
				return ctx.Err()
			}
			continue
		}

		d.pool.Release(slots - len(claimed))
		for _, job := range claimed {
			if err := d.pool.Submit(job); err != nil {
				logger.Warn("pool rejected claimed job", "job_id", job.ID, "error", err)
			}
		}
		if len(claimed) > 0 {
			logger.Debug("dispatched jobs", "count", len(claimed))
		}

		if len(claimed) < slots && !d.idle(ctx) {
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) claim(ctx context.Context, limit int) ([]*core.Job, error) {
	var claimed []*core.Job
	err := retry.Do(ctx, d.config.ClaimBackoff, func(c context.Context) error {
		var claimErr error
		claimed, claimErr = d.store.ClaimDue(c, d.pool.WorkerID(), limit, d.config.VisibilityTimeout)
		return claimErr
	})
	return claimed, err
}

// idle waits for the poll interval or a wake-up. It reports false once ctx is done.
func (d *Dispatcher) idle(ctx context.Context) bool {
	timer := time.NewTimer(d.config.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-d.wake:
		return true
	case <-timer.C:
		return true
	}
}
