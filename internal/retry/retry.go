// Package retry runs an operation with capped exponential backoff plus jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

var ErrExhausted = errors.New("retry attempts exhausted")

const (
	DefaultMaxAttempts = 6
	DefaultBaseDelay   = 500 * time.Millisecond
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable reports whether a failed attempt may be retried. A nil
	// Retryable retries every error.
	Retryable func(error) bool
	// OnRetry, when set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
	Sleep   func(ctx context.Context, d time.Duration) error
	Jitter  func() time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		p.Jitter = secondJitter
	}
	return p
}

// Delay returns the backoff before the attempt following attempt n (0-based):
// BaseDelay*2^n plus jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	return p.BaseDelay<<uint(attempt) + p.Jitter()
}

// Do calls op until it succeeds, fails with a non-retryable error, or
// MaxAttempts attempts have failed.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()
	var zero T
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == policy.MaxAttempts-1 {
			break
		}
		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}
		if err := policy.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, policy.MaxAttempts, lastErr)
}

// Wrap returns a retrying version of op.
func Wrap[T any](policy Policy, op func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, policy, op)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func secondJitter() time.Duration {
	return rand.N(time.Second)
}
