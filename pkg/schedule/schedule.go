package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule determines when a recurring rule fires.
type Schedule interface {
	// Next returns the first fire time strictly after from.
	Next(from time.Time) time.Time
	// String returns a spec that Parse turns back into an equivalent Schedule.
	String() string
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const everyPrefix = "@every "

// everySchedule runs at fixed intervals from the watermark.
type everySchedule struct {
	interval time.Duration
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

func (s *everySchedule) String() string {
	return everyPrefix + s.interval.String()
}

// cronSchedule wraps a parsed cron expression.
type cronSchedule struct {
	spec     string
	schedule cron.Schedule
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *cronSchedule) String() string {
	return s.spec
}

// Parse turns a spec into a Schedule. It accepts "@every <duration>",
// descriptors such as "@daily", and five-field cron expressions, optionally
// prefixed with CRON_TZ=<zone>. Specs without a zone are evaluated in loc.
func Parse(spec string, loc *time.Location) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule spec")
	}

	if rest, ok := strings.CutPrefix(spec, everyPrefix); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", spec, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("parse %q: interval must be positive", spec)
		}
		return &everySchedule{interval: d}, nil
	}

	parsed, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", spec, err)
	}
	zoned := strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=")
	if ss, isSpec := parsed.(*cron.SpecSchedule); isSpec && !zoned {
		if loc == nil {
			loc = time.UTC
		}
		ss.Location = loc
	}
	return &cronSchedule{spec: spec, schedule: parsed}, nil
}

// maxCatchUp bounds the walk over missed fire times.
const maxCatchUp = 1 << 20

// Latest returns the most recent fire time in (after, now]. ok is false when
// the schedule has nothing due yet. However many fire times were missed, only
// the latest is returned.
func Latest(s Schedule, after, now time.Time) (fireAt time.Time, ok bool) {
	next := s.Next(after)
	if next.IsZero() || next.After(now) {
		return time.Time{}, false
	}

	if every, isEvery := s.(*everySchedule); isEvery {
		steps := now.Sub(next) / every.interval
		return next.Add(steps * every.interval), true
	}

	for i := 0; i < maxCatchUp; i++ {
		following := s.Next(next)
		if following.IsZero() || following.After(now) || !following.After(next) {
			break
		}
		next = following
	}
	return next, true
}
