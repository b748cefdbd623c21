package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jdziat/docpipeline/pkg/core"
)

// Backoff holds configuration for retrying store calls.
type Backoff struct {
	// MaxAttempts is the maximum number of calls, including the first.
	// Default: 5
	MaxAttempts int

	// Initial is the first wait. Default: 100ms
	Initial time.Duration

	// Max caps the wait. Default: 5s
	Max time.Duration

	// Multiplier is applied to the wait after each attempt. Default: 2.0
	Multiplier float64

	// Jitter is the fraction of the wait to randomize (0.0 to 1.0).
	// Default: 0.1
	Jitter float64
}

// DefaultBackoff returns the default store-call backoff.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 5,
		Initial:     100 * time.Millisecond,
		Max:         5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Do runs op until it succeeds, returns a non-transient error, the attempts
// run out or ctx is done. Only errors for which core.IsTransient is true are
// retried. The last error is returned.
func Do(ctx context.Context, b Backoff, op func(context.Context) error) error {
	if b.MaxAttempts < 1 {
		b.MaxAttempts = 1
	}
	wait := b.Initial

	var err error
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil || !core.IsTransient(err) {
			return err
		}
		if attempt == b.MaxAttempts {
			break
		}

		sleep := wait + time.Duration(float64(wait)*b.Jitter*(rand.Float64()*2-1))
		if sleep < 0 {
			sleep = wait
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait = time.Duration(float64(wait) * b.Multiplier)
		if b.Max > 0 && wait > b.Max {
			wait = b.Max
		}
	}
	return err
}
