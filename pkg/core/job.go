// Package core provides the domain models and interfaces for the job orchestration core.
package core

import (
	"time"
)

// State represents the current state of a job.
type State string

const (
	StateScheduled State = "scheduled"
	StateClaimed   State = "claimed"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"    // Last attempt failed, due again at NotBefore
	StateExhausted State = "exhausted" // Permanently failed
)

// AllStates lists every job state in lifecycle order.
var AllStates = []State{
	StateScheduled,
	StateClaimed,
	StateRunning,
	StateSucceeded,
	StateFailed,
	StateExhausted,
}

// IsTerminal reports whether no further transitions are possible from s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

// IsClaimed reports whether a worker holds (or held, if stale) a claim in s.
func (s State) IsClaimed() bool {
	return s == StateClaimed || s == StateRunning
}

func (s State) String() string {
	return string(s)
}

// Job represents a unit of asynchronous work tracked by the store.
type Job struct {
	ID           string     `gorm:"primaryKey;size:36"`
	Kind         string     `gorm:"index;size:255;not null"`
	Payload      []byte     `gorm:"type:bytes"`
	State        State      `gorm:"index;size:20;default:'scheduled'"`
	NotBefore    time.Time  `gorm:"index;not null"`
	AttemptCount int        `gorm:"default:0"`
	MaxAttempts  int        `gorm:"default:2"`
	ClaimedBy    string     `gorm:"size:255"`
	ClaimedAt    *time.Time `gorm:"index"`
	ClaimToken   string     `gorm:"size:36"` // Fresh per claim; completions compare-and-swap on it
	LastError    string     `gorm:"type:text"`
	UniqueKey    string     `gorm:"index;size:255"` // For enqueue deduplication
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`
	FinishedAt   *time.Time `gorm:"index"`
}

// RecurringRule is a persisted cron schedule that materializes jobs of Kind.
//
// LastFired is the watermark: the scheduled fire time most recently turned into
// a job, or the registration instant for a rule that has never fired. Version is
// bumped on every watermark change and is what concurrent triggers compare on.
type RecurringRule struct {
	Name      string     `gorm:"primaryKey;size:255"`
	Spec      string     `gorm:"size:255;not null"`
	Kind      string     `gorm:"size:255;not null"`
	Payload   []byte     `gorm:"type:bytes"`
	LastFired *time.Time
	Version   int64     `gorm:"default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	State  State
	Kind   string
	Limit  int
	Offset int
}
