// Package retry provides exponential backoff policies for the sync
// coordinator's reconnect loop and pending-upload retries.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines backoff between attempts.
type Policy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Zero means unlimited.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is applied to the delay after each retry.
	Multiplier float64

	// Jitter is a random factor (0-1) applied to the delay.
	Jitter float64
}

// Default returns 5 attempts starting at 500ms, capped at 30s.
func Default() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Reconnect returns an unlimited policy for long-lived realtime channels.
func Reconnect() Policy {
	return Policy{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// NoRetry returns a policy that makes a single attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1, Multiplier: 1.0}
}

// NextDelay returns the delay before retry number attempt (1-indexed).
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		delay = time.Duration(float64(delay) * (1 - p.Jitter + 2*p.Jitter*rand.Float64()))
	}
	return delay
}

// ShouldRetry reports whether another attempt follows the failed attempt
// number attempt. Context errors are never retried.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return p.MaxAttempts == 0 || attempt < p.MaxAttempts
}

// Do runs fn until it succeeds, the policy gives up, fn returns an error
// wrapped by Permanent, or ctx ends. It returns the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !p.ShouldRetry(attempt, err) {
			return err
		}
		if serr := Sleep(ctx, p.NextDelay(attempt)); serr != nil {
			return err
		}
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
