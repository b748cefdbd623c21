package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for jobs and recurring rules.
//
// All coordination between dispatchers, workers and triggers goes through a
// Store; implementations must make ClaimDue, the Mark* transitions and FireRule
// atomic with respect to each other, including across processes.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Enqueueing
	Enqueue(ctx context.Context, job *Job) error
	EnqueueUnique(ctx context.Context, job *Job, uniqueKey string) error

	// Claiming
	ClaimDue(ctx context.Context, workerID string, limit int, visibilityTimeout time.Duration) ([]*Job, error)

	// Transitions. token is the ClaimToken handed out by ClaimDue.
	MarkRunning(ctx context.Context, jobID, token string) error
	MarkSucceeded(ctx context.Context, jobID, token string) error
	MarkFailed(ctx context.Context, jobID, token, errMsg string, nextNotBefore time.Time) (State, error)
	MarkExhausted(ctx context.Context, jobID, token, errMsg string) error

	// Retention
	Reap(ctx context.Context, olderThan time.Time) (int64, error)

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	Stats(ctx context.Context) (map[State]int64, error)

	// Recurring rules
	UpsertRule(ctx context.Context, rule *RecurringRule) error
	GetRule(ctx context.Context, name string) (*RecurringRule, error)
	ListRules(ctx context.Context) ([]*RecurringRule, error)
	FireRule(ctx context.Context, name string, version int64, fireAt time.Time, job *Job) (bool, error)
}

// Enqueuer is the narrow enqueue surface handed to components that only add work.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts ...EnqueueOption) (string, error)
}

// EnqueueOption is implemented by queue options; declared here so that
// packages below pkg/queue can accept them without an import cycle.
type EnqueueOption interface {
	ApplyEnqueue(*EnqueueOptions)
}

// EnqueueOptions holds per-enqueue settings.
type EnqueueOptions struct {
	Delay       time.Duration
	NotBefore   *time.Time
	MaxAttempts int
	UniqueKey   string
}
