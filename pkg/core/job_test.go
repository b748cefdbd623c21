package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Values(t *testing.T) {
	assert.Equal(t, State("scheduled"), StateScheduled)
	assert.Equal(t, State("claimed"), StateClaimed)
	assert.Equal(t, State("running"), StateRunning)
	assert.Equal(t, State("succeeded"), StateSucceeded)
	assert.Equal(t, State("failed"), StateFailed)
	assert.Equal(t, State("exhausted"), StateExhausted)
	assert.Len(t, AllStates, 6)
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range AllStates {
		want := s == StateSucceeded || s == StateExhausted
		assert.Equal(t, want, s.IsTerminal(), "state %s", s)
	}
}

func TestState_IsClaimed(t *testing.T) {
	assert.True(t, StateClaimed.IsClaimed())
	assert.True(t, StateRunning.IsClaimed())
	assert.False(t, StateScheduled.IsClaimed())
	assert.False(t, StateFailed.IsClaimed())
	assert.False(t, StateSucceeded.IsClaimed())
}

func TestJob_Defaults(t *testing.T) {
	job := &Job{}
	assert.Empty(t, job.ID)
	assert.Empty(t, job.Kind)
	assert.Equal(t, State(""), job.State)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Nil(t, job.ClaimedAt)
	assert.Nil(t, job.FinishedAt)
}
