// Package retry provides exponential backoff with jitter for the calls
// walletguard is allowed to repeat: dialing the upstream node and writing
// audit records. Risk scoring is never retried.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy describes a backoff schedule.
type Policy struct {
	Attempts  int           // total attempts, at least 1
	BaseDelay time.Duration // first sleep; doubled each retry
	MaxDelay  time.Duration // cap on a single sleep; 0 means uncapped
}

// Default is used for audit writes.
var Default = Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

// Do calls fn up to maxAttempts times, doubling baseDelay between attempts
// with ±25% jitter. It stops on success, on a *PermanentError (returning the
// wrapped error), or when ctx is done.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return Policy{Attempts: maxAttempts, BaseDelay: baseDelay}.Do(ctx, fn)
}

// Do runs fn under the policy.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	_, err := Value(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Value is Do for functions that produce a result, such as dialing a client.
func Value[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.BaseDelay

	var (
		v   T
		err error
	)
	for attempt := 1; ; attempt++ {
		v, err = fn()
		if err == nil {
			return v, nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return v, pe.Err
		}
		if attempt >= attempts {
			return v, err
		}

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

// jittered returns d ±25%.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := int64(d / 4)
	return d - time.Duration(spread) + time.Duration(randInt63n(2*spread+1))
}

// randInt63n returns a random int64 in [0, n) using crypto/rand.
func randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:])>>1) % n
}
