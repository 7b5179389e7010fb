// Package retry provides the single retry policy used by all exchange
// operations. Callers configure attempts and backoff once instead of
// scattering sleep-and-retry loops through the order code.
package retry

import (
	"context"
	"time"
)

// Policy defines a bounded retry with fixed backoff between attempts.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultPolicy covers ordinary exchange calls: one retry after a short pause.
var DefaultPolicy = Policy{MaxAttempts: 2, Backoff: 500 * time.Millisecond}

// Do runs fn up to MaxAttempts times, sleeping Backoff between attempts.
// It stops early when fn succeeds, when fn reports the error is permanent,
// or when the context is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}

		err = fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}

		if i < attempts-1 && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return err
}

// permanentError wraps an error that must not be retried
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as not retryable, e.g. an order rejection.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	for err != nil {
		if _, ok := err.(*permanentError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
