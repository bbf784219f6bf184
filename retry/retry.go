// Package retry retries an operation with exponential backoff.
//
// It is used around connection checks and archive object transfers only.
// Document writes are never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Sentinel errors.
var (
	// ErrExhausted is returned when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrPermanent is returned when an attempt failed with an error that
	// must not be retried.
	ErrPermanent = errors.New("retry: permanent failure")

	// ErrCanceled is returned when the context ends between attempts.
	ErrCanceled = errors.New("retry: canceled")
)

// Policy describes how often and how fast to retry.
type Policy struct {
	// Attempts is the total number of calls, including the first (default 4).
	Attempts int
	// Base is the delay before the second attempt (default 200ms).
	Base time.Duration
	// Max caps the delay between attempts (default 10s).
	Max time.Duration
	// Factor multiplies the delay after each attempt (default 2).
	Factor float64
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
	// Retryable decides whether an error is worth another attempt.
	// Default: everything except Permanent errors and context errors.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{Jitter: 0.2}.normalize()
}

// Never is a policy that makes exactly one attempt.
func Never() Policy {
	return Policy{Attempts: 1}.normalize()
}

func (p Policy) normalize() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 4
	}
	if p.Base <= 0 {
		p.Base = 200 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 10 * time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Retryable == nil {
		p.Retryable = Transient
	}
	return p
}

// Delay returns the wait before attempt n+1, with n counted from zero.
func (p Policy) Delay(n int) time.Duration {
	p = p.normalize()
	d := float64(p.Base) * math.Pow(p.Factor, float64(n))
	d = min(d, float64(p.Max))
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Error describes a failed retried operation. It matches its reason
// (ErrExhausted, ErrPermanent or ErrCanceled) and unwraps to the last error.
type Error struct {
	Attempts int
	Reason   error
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Reason, e.Attempts, e.Last)
}

func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Last}
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy
// runs out of attempts, or ctx ends.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalize()

	var last error
	for n := 0; n < p.Attempts; n++ {
		if n > 0 {
			timer := time.NewTimer(p.Delay(n - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return &Error{Attempts: n, Reason: ErrCanceled, Last: last}
			case <-timer.C:
			}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !p.Retryable(last) {
			return &Error{Attempts: n + 1, Reason: ErrPermanent, Last: last}
		}
	}
	return &Error{Attempts: p.Attempts, Reason: ErrExhausted, Last: last}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T
	err := Do(ctx, p, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err}
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

// Transient is the default Retryable: every error except those marked
// Permanent and context cancellation or expiry.
func Transient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
