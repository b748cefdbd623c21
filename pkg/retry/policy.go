package retry

import (
	"time"

	"github.com/jdziat/docpipeline/pkg/security"
)

// Policy maps a failed attempt number to the delay before the next attempt.
type Policy struct {
	// Delays[i] is the wait after attempt i+1 fails. Attempts past the end
	// reuse the last delay.
	Delays []time.Duration

	// Attempts overrides the attempt ceiling. Zero means len(Delays).
	Attempts int
}

// DefaultPolicy allows two attempts, five then ten minutes apart.
func DefaultPolicy() Policy {
	return Fixed(5*time.Minute, 10*time.Minute)
}

// Fixed builds a policy from an explicit delay schedule.
func Fixed(delays ...time.Duration) Policy {
	return Policy{Delays: delays}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt-1]
}

// MaxAttempts returns the attempt ceiling for jobs under this policy.
func (p Policy) MaxAttempts() int {
	if p.Attempts > 0 {
		return security.ClampAttempts(p.Attempts)
	}
	return security.ClampAttempts(len(p.Delays))
}

// Next returns when a job failing attempt at now becomes due again.
func (p Policy) Next(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
