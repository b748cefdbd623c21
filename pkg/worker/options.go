package worker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/docpipeline/pkg/retry"
	"github.com/jdziat/docpipeline/pkg/security"
)

// WorkerOption configures a Pool.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds pool configuration.
type WorkerConfig struct {
	WorkerID      string
	Concurrency   int
	Policy        retry.Policy
	StoreBackoff  retry.Backoff
	ShutdownGrace time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// DefaultWorkerConfig returns the configuration used when no option overrides it.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerID:      uuid.New().String(),
		Concurrency:   5,
		Policy:        retry.DefaultPolicy(),
		StoreBackoff:  retry.DefaultBackoff(),
		ShutdownGrace: 30 * time.Second,
		Logger:        slog.Default(),
		Now:           time.Now,
	}
}

// Concurrency sets the number of execution slots.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// WorkerID sets the identity recorded on claims.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// Policy sets the retry schedule for failed attempts.
func Policy(p retry.Policy) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Policy = p
	})
}

// StoreBackoff sets how store calls are retried on transient errors.
func StoreBackoff(b retry.Backoff) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StoreBackoff = b
	})
}

// ShutdownGrace sets how long running handlers may continue after shutdown starts.
func ShutdownGrace(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ShutdownGrace = d
	})
}

// Logger sets the pool's logger.
func Logger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// Clock overrides the time source used to compute retry times.
func Clock(now func() time.Time) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Now = now
	})
}
