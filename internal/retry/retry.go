// Package retry runs I/O calls under an explicit exponential backoff policy.
// It is a thin layer over github.com/sethvargo/go-retry that adds a
// configurable backoff factor and permanent-error marking.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds how often and how fast a call is retried.
// MaxAttempts counts every call, including the first one.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
}

// DefaultPolicy is used by the multipart upload paths: three attempts with
// 500ms, then 1s between them.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, BackoffFactor: 2}

// Delay returns the pause taken after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1)))
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Notify is called before each retry with the failed attempt number, its
// error and the delay about to be taken.
type Notify func(attempt int, err error, delay time.Duration)

// Do calls fn until it succeeds, returns a permanent error, the context is
// done, or the policy runs out of attempts. Only the final error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, notify Notify) error {
	attempt := 0
	var lastErr error

	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		if attempt >= p.attempts() {
			return 0, true
		}
		d := p.Delay(attempt)
		if notify != nil {
			notify(attempt, lastErr, d)
		}
		return d, false
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		return goretry.RetryableError(err)
	})

	var p2 *permanentError
	if errors.As(err, &p2) {
		return p2.err
	}
	return err
}
