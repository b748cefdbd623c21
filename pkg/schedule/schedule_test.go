package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, spec string, loc *time.Location) Schedule {
	t.Helper()
	s, err := Parse(spec, loc)
	require.NoError(t, err, spec)
	return s
}

func TestParse_Every(t *testing.T) {
	s := mustParse(t, "@every 5m", time.UTC)
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(5*time.Minute), s.Next(now))
	assert.Equal(t, "@every 5m0s", s.String())
}

func TestParse_Midnight(t *testing.T) {
	s := mustParse(t, "0 0 * * *", time.UTC)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		s.Next(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "0 0 * * *", s.String())
}

func TestParse_DefaultLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	s := mustParse(t, "0 0 * * *", loc)

	next := s.Next(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC), next.UTC())
}

func TestParse_ExplicitZoneWins(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	s := mustParse(t, "CRON_TZ=UTC 0 0 * * *", loc)

	next := s.Next(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestParse_Weekdays(t *testing.T) {
	s := mustParse(t, "30 14 * * 1-5", time.UTC)
	next := s.Next(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)) // Saturday

	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestParse_Descriptor(t *testing.T) {
	s := mustParse(t, "@daily", time.UTC)

	next := s.Next(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestParse_RoundTrips(t *testing.T) {
	loc := time.FixedZone("Test", 3*60*60)
	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, spec := range []string{"@every 90s", "0 0 * * *", "15 3 * * 0", "*/15 * * * *", "CRON_TZ=UTC 0 9 * * *"} {
		s := mustParse(t, spec, loc)
		again := mustParse(t, s.String(), loc)
		assert.True(t, s.Next(from).Equal(again.Next(from)), spec)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, spec := range []string{"", "not a cron", "@every nope", "@every -1s", "@every 0s", "61 * * * *"} {
		_, err := Parse(spec, time.UTC)
		assert.Error(t, err, spec)
	}
}

func TestLatest_NothingDue(t *testing.T) {
	s := mustParse(t, "0 0 * * *", time.UTC)
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := Latest(s, after, after.Add(23*time.Hour))
	assert.False(t, ok)
}

func TestLatest_CollapsesMissedFirings(t *testing.T) {
	s := mustParse(t, "0 0 * * *", time.UTC)
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 4, 6, 0, 0, 0, time.UTC)

	fireAt, ok := Latest(s, after, now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), fireAt.UTC())
}

func TestLatest_Every(t *testing.T) {
	s := mustParse(t, "@every 10m", time.UTC)
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fireAt, ok := Latest(s, after, after.Add(35*time.Minute))
	require.True(t, ok)
	assert.Equal(t, after.Add(30*time.Minute), fireAt)
}
