// Package retry provides a bounded retry policy with exponential
// backoff and jitter for transient upstream failures.
//
// DESIGN: The policy is a capability composed around a callable, not
// baked into the caller. A component wraps its operation in
// Policy.Do with a predicate saying which errors are transient; the
// operation itself performs no looping. With MaxAttempts=1 the policy
// degrades to a plain call, so attaching it never changes the
// wrapped operation's observable behavior on success.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	// DefaultMaxAttempts is the total number of attempts, including the first.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff delay before the first re-attempt.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 30 * time.Second
)

// Listener is notified before each re-attempt with the attempt number
// about to run (2-based: the first retry is attempt 2) and the total
// attempt budget.
type Listener func(attempt, maxAttempts int)

// Policy defines bounded retries with exponential backoff and jitter.
// The zero value is usable and falls back to the package defaults.
type Policy struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Initial backoff delay
	MaxDelay    time.Duration // Backoff ceiling
	Listener    Listener      // Optional retry notification

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc returns a float64 in [0,1); used for jitter.
	randFunc func() float64
}

// SetSleepFunc overrides the sleep function (for testing).
func (p *Policy) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	p.sleepFunc = fn
}

// SetRandFunc overrides the random number generator (for testing).
func (p *Policy) SetRandFunc(fn func() float64) {
	p.randFunc = fn
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// delay computes the jittered backoff delay before re-attempt n
// (n=1 for the first retry): base * 2^(n-1), capped at MaxDelay,
// scaled by a random factor in [0.5, 1.0].
func (p *Policy) delay(n int, base, maxDelay time.Duration, rnd func() float64) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(n-1)))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return time.Duration(float64(d) * (0.5 + 0.5*rnd()))
}

// Do invokes fn, retrying while retryable(err) reports the failure as
// transient. The last error is returned once attempts are exhausted
// or the failure is not transient. A nil retryable predicate retries
// every error. Context cancellation during backoff aborts with the
// context's error.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	sleep := p.sleepFunc
	if sleep == nil {
		sleep = contextSleep
	}
	rnd := p.randFunc
	if rnd == nil {
		rnd = rand.Float64
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if p.Listener != nil {
				p.Listener(attempt, maxAttempts)
			}
			if serr := sleep(ctx, p.delay(attempt-1, base, maxDelay, rnd)); serr != nil {
				return serr
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
