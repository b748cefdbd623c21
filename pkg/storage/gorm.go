// Package storage provides storage implementations for the job core.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/security"
)

// DefaultMaxAttempts is applied to jobs enqueued without an attempt ceiling.
const DefaultMaxAttempts = 2

var (
	claimableStates = []core.State{core.StateScheduled, core.StateFailed}
	claimedStates   = []core.State{core.StateClaimed, core.StateRunning}
	terminalStates  = []core.State{core.StateSucceeded, core.StateExhausted}
)

// GormStorage implements core.Store using GORM.
type GormStorage struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a GormStorage.
type Option interface {
	applyStorage(*GormStorage)
}

type optionFunc func(*GormStorage)

func (f optionFunc) applyStorage(s *GormStorage) { f(s) }

// WithClock overrides the time source used for claims, schedules and retention.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(s *GormStorage) {
		s.now = now
	})
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...Option) *GormStorage {
	s := &GormStorage{db: db, now: time.Now}
	for _, opt := range opts {
		opt.applyStorage(s)
	}
	return s
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage runs on SQLite, which lacks row locking.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

func (s *GormStorage) clock() time.Time {
	return s.now().UTC()
}

// Migrate creates the necessary tables and the partial index that enforces
// one active job per unique key.
func (s *GormStorage) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&core.Job{}, &core.RecurringRule{}); err != nil {
		return wrapErr("migrate", err)
	}
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_active_unique_key
		ON jobs (unique_key)
		WHERE unique_key <> '' AND state NOT IN ('succeeded', 'exhausted')`).Error
	return wrapErr("migrate", err)
}

func (s *GormStorage) prepare(job *core.Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.State == "" {
		job.State = core.StateScheduled
	}
	if job.NotBefore.IsZero() {
		job.NotBefore = s.clock()
	}
	job.NotBefore = job.NotBefore.UTC()
	if job.MaxAttempts < 1 {
		job.MaxAttempts = DefaultMaxAttempts
	}
}

// Enqueue adds a job in the scheduled state.
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	s.prepare(job)
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		if IsUniqueViolation(err) && job.UniqueKey != "" {
			return core.ErrDuplicateJob
		}
		return wrapErr("enqueue", err)
	}
	return nil
}

// EnqueueUnique adds a job only if no non-terminal job with the same unique key exists.
func (s *GormStorage) EnqueueUnique(ctx context.Context, job *core.Job, uniqueKey string) error {
	job.UniqueKey = uniqueKey

	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("unique_key = ?", uniqueKey).
		Where("state NOT IN ?", terminalStates).
		Count(&count).Error
	if err != nil {
		return wrapErr("enqueue unique", err)
	}
	if count > 0 {
		return core.ErrDuplicateJob
	}

	// The partial unique index catches the race between the count and the insert.
	return s.Enqueue(ctx, job)
}

// claimable matches jobs that are due, or whose claim has outlived the visibility timeout.
func claimable(now, staleBefore time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("((state IN ? AND not_before <= ?) OR (state IN ? AND claimed_at < ?))",
			claimableStates, now, claimedStates, staleBefore)
	}
}

// ClaimDue atomically claims up to limit due or stale jobs for workerID.
//
// Candidates are re-checked by a conditional UPDATE per row, so two dispatchers
// racing on the same candidate cannot both win it. Each claim gets a fresh
// token that the later transitions compare on.
func (s *GormStorage) ClaimDue(ctx context.Context, workerID string, limit int, visibilityTimeout time.Duration) ([]*core.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.clock()
	staleBefore := now.Add(-visibilityTimeout)

	var claimed []*core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed = claimed[:0]

		var candidates []*core.Job
		q := tx.Scopes(claimable(now, staleBefore)).
			Order("not_before ASC, created_at ASC").
			Limit(limit)
		if !s.IsSQLite() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}

		for _, job := range candidates {
			token := uuid.New().String()
			result := tx.Model(&core.Job{}).
				Where("id = ?", job.ID).
				Scopes(claimable(now, staleBefore)).
				Updates(map[string]any{
					"state":       core.StateClaimed,
					"claimed_by":  workerID,
					"claimed_at":  now,
					"claim_token": token,
					"updated_at":  now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			job.State = core.StateClaimed
			job.ClaimedBy = workerID
			job.ClaimedAt = &now
			job.ClaimToken = token
			job.UpdatedAt = now
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("claim", err)
	}
	return claimed, nil
}

// MarkRunning moves a claimed job to running.
func (s *GormStorage) MarkRunning(ctx context.Context, jobID, token string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND claim_token = ? AND state = ?", jobID, token, core.StateClaimed).
		Updates(map[string]any{
			"state":      core.StateRunning,
			"updated_at": s.clock(),
		})
	if result.Error != nil {
		return wrapErr("mark running", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.ownershipErr(ctx, jobID, nil)
	}
	return nil
}

// MarkSucceeded marks a job as succeeded. Calling it again on a succeeded job is a no-op.
func (s *GormStorage) MarkSucceeded(ctx context.Context, jobID, token string) error {
	now := s.clock()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND claim_token = ? AND state IN ?", jobID, token, claimedStates).
		Updates(map[string]any{
			"state":       core.StateSucceeded,
			"finished_at": now,
			"claimed_at":  nil,
			"claim_token": "",
			"updated_at":  now,
		})
	if result.Error != nil {
		return wrapErr("mark succeeded", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.ownershipErr(ctx, jobID, func(job *core.Job) bool {
			return job.State == core.StateSucceeded
		})
	}
	return nil
}

// MarkFailed records a failed attempt. The job becomes exhausted once its
// attempt count reaches MaxAttempts, otherwise it is due again at nextNotBefore.
// Error messages are sanitized before storage.
func (s *GormStorage) MarkFailed(ctx context.Context, jobID, token, errMsg string, nextNotBefore time.Time) (core.State, error) {
	var next core.State
	err := s.transition(ctx, "mark failed", jobID, token, func(job *core.Job, now time.Time) map[string]any {
		attempt := job.AttemptCount + 1
		updates := map[string]any{
			"attempt_count": attempt,
			"last_error":    security.SanitizeErrorMessage(errMsg),
			"claimed_at":    nil,
			"claim_token":   "",
			"updated_at":    now,
		}
		if attempt >= job.MaxAttempts {
			next = core.StateExhausted
			updates["finished_at"] = now
		} else {
			next = core.StateFailed
			updates["not_before"] = nextNotBefore.UTC()
		}
		updates["state"] = next
		return updates
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// MarkExhausted fails a job permanently regardless of remaining attempts.
func (s *GormStorage) MarkExhausted(ctx context.Context, jobID, token, errMsg string) error {
	return s.transition(ctx, "mark exhausted", jobID, token, func(job *core.Job, now time.Time) map[string]any {
		attempt := job.AttemptCount + 1
		if attempt > job.MaxAttempts {
			attempt = job.MaxAttempts
		}
		return map[string]any{
			"state":         core.StateExhausted,
			"attempt_count": attempt,
			"last_error":    security.SanitizeErrorMessage(errMsg),
			"finished_at":   now,
			"claimed_at":    nil,
			"claim_token":   "",
			"updated_at":    now,
		}
	})
}

// transition loads the job owned by token, computes the update and applies it
// guarded on the attempt count it was computed from.
func (s *GormStorage) transition(ctx context.Context, op, jobID, token string, build func(*core.Job, time.Time) map[string]any) error {
	now := s.clock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		err := tx.Where("id = ? AND claim_token = ? AND state IN ?", jobID, token, claimedStates).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrClaimLost
		}
		if err != nil {
			return err
		}

		result := tx.Model(&core.Job{}).
			Where("id = ? AND claim_token = ? AND attempt_count = ?", jobID, token, job.AttemptCount).
			Updates(build(&job, now))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrClaimLost
		}
		return nil
	})
	if errors.Is(err, core.ErrClaimLost) {
		return s.ownershipErr(ctx, jobID, nil)
	}
	return wrapErr(op, err)
}

// ownershipErr explains why a token-guarded update matched no row. accept
// reports whether the job's current state already satisfies the caller.
func (s *GormStorage) ownershipErr(ctx context.Context, jobID string, accept func(*core.Job) bool) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if accept != nil && accept(job) {
		return nil
	}
	return core.ErrClaimLost
}

// Reap deletes terminal jobs that finished before olderThan.
func (s *GormStorage) Reap(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("state IN ?", terminalStates).
		Where("finished_at < ?", olderThan.UTC()).
		Delete(&core.Job{})
	if result.Error != nil {
		return 0, wrapErr("reap", result.Error)
	}
	return result.RowsAffected, nil
}

// GetJob retrieves a job by ID.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *GormStorage) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{})
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var jobs []*core.Job
	err := q.Order("created_at DESC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, wrapErr("list jobs", err)
	}
	return jobs, nil
}

// Stats returns job counts for every state.
func (s *GormStorage) Stats(ctx context.Context) (map[core.State]int64, error) {
	type row struct {
		State string
		Count int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("state, count(*) as count").
		Group("state").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("stats", err)
	}

	stats := make(map[core.State]int64, len(core.AllStates))
	for _, st := range core.AllStates {
		stats[st] = 0
	}
	for _, r := range rows {
		stats[core.State(r.State)] += r.Count
	}
	return stats, nil
}
