package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/docpipeline/pkg/core"
)

func TestUpsertRule_NewRuleStartsAtRegistration(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStorage(t, clock)

	rule := &core.RecurringRule{Name: "cleanup", Spec: "0 0 * * *", Kind: "cleanup"}
	require.NoError(t, s.UpsertRule(ctx, rule))

	stored, err := s.GetRule(ctx, "cleanup")
	require.NoError(t, err)
	require.NotNil(t, stored.LastFired)
	assert.True(t, stored.LastFired.Equal(clock.Now()))
	assert.Equal(t, int64(0), stored.Version)
}

func TestUpsertRule_KeepsWatermarkOnReregistration(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStorage(t, clock)

	require.NoError(t, s.UpsertRule(ctx, &core.RecurringRule{Name: "cleanup", Spec: "0 0 * * *", Kind: "cleanup"}))
	original := clock.Now()

	clock.Advance(24 * time.Hour)
	updated := &core.RecurringRule{Name: "cleanup", Spec: "0 1 * * *", Kind: "cleanup", Payload: []byte(`{"retentionDays":3}`)}
	require.NoError(t, s.UpsertRule(ctx, updated))

	require.NotNil(t, updated.LastFired)
	assert.True(t, updated.LastFired.Equal(original), "caller sees stored watermark")

	stored, err := s.GetRule(ctx, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "0 1 * * *", stored.Spec)
	assert.JSONEq(t, `{"retentionDays":3}`, string(stored.Payload))
	assert.True(t, stored.LastFired.Equal(original))
}

func TestGetRule_Missing(t *testing.T) {
	s := newTestStorage(t, newTestClock())
	_, err := s.GetRule(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrRuleNotFound)
}

func TestListRules_OrderedByName(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newTestClock())

	require.NoError(t, s.UpsertRule(ctx, &core.RecurringRule{Name: "b", Spec: "@hourly", Kind: "k"}))
	require.NoError(t, s.UpsertRule(ctx, &core.RecurringRule{Name: "a", Spec: "@hourly", Kind: "k"}))

	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, "b", rules[1].Name)
}

func TestFireRule_AdvancesWatermarkAndEnqueues(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStorage(t, clock)

	require.NoError(t, s.UpsertRule(ctx, &core.RecurringRule{Name: "cleanup", Spec: "0 0 * * *", Kind: "cleanup"}))
	fireAt := clock.Now().Add(12 * time.Hour)

	fired, err := s.FireRule(ctx, "cleanup", 0, fireAt, newTestJob("cleanup"))
	require.NoError(t, err)
	assert.True(t, fired)

	rule, err := s.GetRule(ctx, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rule.Version)
	assert.True(t, rule.LastFired.Equal(fireAt))

	jobs, err := s.ListJobs(ctx, core.JobFilter{Kind: "cleanup"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestFireRule_StaleVersionLoses(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStorage(t, clock)

	require.NoError(t, s.UpsertRule(ctx, &core.RecurringRule{Name: "cleanup", Spec: "0 0 * * *", Kind: "cleanup"}))
	fireAt := clock.Now().Add(12 * time.Hour)

	fired, err := s.FireRule(ctx, "cleanup", 0, fireAt, newTestJob("cleanup"))
	require.NoError(t, err)
	require.True(t, fired)

	// A second trigger that read the same watermark must not fire again.
	fired, err = s.FireRule(ctx, "cleanup", 0, fireAt, newTestJob("cleanup"))
	require.NoError(t, err)
	assert.False(t, fired)

	jobs, err := s.ListJobs(ctx, core.JobFilter{Kind: "cleanup"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "exactly one job per firing")
}
