package queue

import (
	"time"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/security"
)

type enqueueOptionFunc func(*core.EnqueueOptions)

func (f enqueueOptionFunc) ApplyEnqueue(o *core.EnqueueOptions) { f(o) }

// Delay makes the job due d after it is enqueued.
func Delay(d time.Duration) core.EnqueueOption {
	return enqueueOptionFunc(func(o *core.EnqueueOptions) {
		o.Delay = d
	})
}

// At makes the job due at t. It takes precedence over Delay.
func At(t time.Time) core.EnqueueOption {
	return enqueueOptionFunc(func(o *core.EnqueueOptions) {
		o.NotBefore = &t
	})
}

// MaxAttempts overrides the attempt ceiling for one job.
// Values are clamped to [1, security.MaxAttempts].
func MaxAttempts(n int) core.EnqueueOption {
	return enqueueOptionFunc(func(o *core.EnqueueOptions) {
		o.MaxAttempts = security.ClampAttempts(n)
	})
}

// Unique rejects the enqueue with core.ErrDuplicateJob while another
// non-terminal job holds the same key.
func Unique(key string) core.EnqueueOption {
	return enqueueOptionFunc(func(o *core.EnqueueOptions) {
		o.UniqueKey = key
	})
}

// FollowUpOptions converts a handler follow-up into enqueue options.
func FollowUpOptions(f handler.FollowUp) []core.EnqueueOption {
	var opts []core.EnqueueOption
	if f.Delay > 0 {
		opts = append(opts, Delay(f.Delay))
	}
	if f.UniqueKey != "" {
		opts = append(opts, Unique(f.UniqueKey))
	}
	return opts
}

// Option configures a Queue.
type Option interface {
	applyQueue(*Queue)
}

type optionFunc func(*Queue)

func (f optionFunc) applyQueue(q *Queue) { f(q) }

// WithDefaultMaxAttempts sets the attempt ceiling for jobs enqueued without
// MaxAttempts.
func WithDefaultMaxAttempts(n int) Option {
	return optionFunc(func(q *Queue) {
		q.defaultMaxAttempts = security.ClampAttempts(n)
	})
}

// WithRegistry rejects enqueues for kinds the registry has no handler for.
func WithRegistry(r *handler.Registry) Option {
	return optionFunc(func(q *Queue) {
		q.registry = r
	})
}

// WithClock overrides the time source used to compute due times.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(q *Queue) {
		q.now = now
	})
}
