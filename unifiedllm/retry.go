package unifiedllm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds how a failed completion is retried. Adapters never
// retry on their own; install RetryMiddleware to opt in.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Factor     float64
	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter  bool
	OnRetry func(err error, attempt int, wait time.Duration)
}

// DefaultRetryPolicy retries twice, starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Base:       time.Second,
		Max:        time.Minute,
		Factor:     2,
		Jitter:     true,
	}
}

// Delay returns the wait before retry number attempt, counted from 0.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	wait := float64(p.Base)
	for i := 0; i < attempt && wait < float64(p.Max); i++ {
		wait *= p.Factor
	}
	if p.Max > 0 && wait > float64(p.Max) {
		wait = float64(p.Max)
	}
	if p.Jitter {
		wait *= 0.5 + rand.Float64()
	}
	return time.Duration(wait)
}

// wait picks the delay before the next attempt. A Retry-After hint replaces
// the computed backoff; a hint longer than Max means the caller gives up.
func (p RetryPolicy) wait(err error, attempt int) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		hint := time.Duration(*rl.RetryAfter * float64(time.Second))
		return hint, p.Max <= 0 || hint <= p.Max
	}
	return p.Delay(attempt), true
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or the
// policy runs out of retries. Cancellation while waiting yields an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= policy.MaxRetries || !IsRetryable(err) {
			return zero, err
		}
		wait, ok := policy.wait(err, attempt)
		if !ok {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}
	}
}

// RetryMiddleware wraps each completion in Retry.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req ChatRequest, next CompleteFunc) (*ChatResponse, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*ChatResponse, error) {
			return next(ctx, req)
		})
	}
}
