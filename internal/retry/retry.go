// Package retry is the bounded retry combinator shared by the store client,
// the feed collector and the summarizer.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         float64       // 0.2 spreads each delay by ±10%
	AttemptTimeout time.Duration // 0 disables the per-attempt deadline
}

// DefaultPolicy returns the policy used when a caller has no opinion.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// Classifier reports whether err is worth another attempt.
type Classifier func(error) bool

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. Do returns the wrapped error unchanged.
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

// RetryAfterer is implemented by errors that carry a server-provided wait hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Do runs op until it succeeds, returns a permanent error, or the policy is
// exhausted. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) (int, error) {
	return DoWhen(ctx, p, nil, op)
}

// DoWhen is Do with a classifier; errors the classifier rejects end the loop.
func DoWhen(ctx context.Context, p Policy, retryable Classifier, op func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("retry cancelled: %w", err)
		}

		err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		if retryable != nil && !retryable(err) {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		var hinted RetryAfterer
		if errors.As(err, &hinted) {
			if hint := hinted.RetryAfter(); hint > 0 {
				delay = hint
				if p.MaxDelay > 0 && delay > 4*p.MaxDelay {
					delay = 4 * p.MaxDelay
				}
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	return maxAttempts, &ExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(callCtx)
}

// Backoff returns the delay before the attempt following attempt n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay *= 1 + (rand.Float64()-0.5)*p.Jitter
	}
	return time.Duration(delay)
}
