package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/docpipeline/pkg/core"
)

// UpsertRule registers a recurring rule or updates its definition.
//
// A new rule starts with its watermark at the registration instant unless the
// caller supplies one, so no firing is back-filled for time before it existed.
// Re-registering an existing rule keeps its watermark and version. On return,
// rule reflects the stored watermark and version.
func (s *GormStorage) UpsertRule(ctx context.Context, rule *core.RecurringRule) error {
	now := s.clock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing core.RecurringRule
		err := tx.First(&existing, "name = ?", rule.Name).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if rule.LastFired == nil {
				rule.LastFired = &now
			}
			rule.Version = 0
			return tx.Create(rule).Error
		}
		if err != nil {
			return err
		}

		err = tx.Model(&core.RecurringRule{}).
			Where("name = ?", rule.Name).
			Updates(map[string]any{
				"spec":       rule.Spec,
				"kind":       rule.Kind,
				"payload":    rule.Payload,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}
		rule.LastFired = existing.LastFired
		rule.Version = existing.Version
		rule.CreatedAt = existing.CreatedAt
		return nil
	})
	return wrapErr("upsert rule", err)
}

// GetRule loads a recurring rule by name.
func (s *GormStorage) GetRule(ctx context.Context, name string) (*core.RecurringRule, error) {
	var rule core.RecurringRule
	err := s.db.WithContext(ctx).First(&rule, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrRuleNotFound
	}
	if err != nil {
		return nil, wrapErr("get rule", err)
	}
	return &rule, nil
}

// ListRules returns all recurring rules ordered by name.
func (s *GormStorage) ListRules(ctx context.Context) ([]*core.RecurringRule, error) {
	var rules []*core.RecurringRule
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&rules).Error; err != nil {
		return nil, wrapErr("list rules", err)
	}
	return rules, nil
}

// FireRule advances a rule's watermark to fireAt and enqueues job in one
// transaction. The update is conditional on version, so when two triggers
// observe the same watermark exactly one of them fires; the other gets false.
func (s *GormStorage) FireRule(ctx context.Context, name string, version int64, fireAt time.Time, job *core.Job) (bool, error) {
	s.prepare(job)
	fired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.RecurringRule{}).
			Where("name = ? AND version = ?", name, version).
			Updates(map[string]any{
				"last_fired": fireAt.UTC(),
				"version":    gorm.Expr("version + 1"),
				"updated_at": s.clock(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		fired = true
		return nil
	})
	if err != nil {
		return false, wrapErr("fire rule", err)
	}
	return fired, nil
}
