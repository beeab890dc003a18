package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/warden/internal/actuator"
)

// Default retry values.
const (
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 30 * time.Second
)

// RetryPolicy controls how failed actuator calls are retried.
// MaxRetries of 0 means a single attempt.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// retryable reports whether err is worth another attempt.
// Missing resources, unsupported actions and timeouts are final.
func retryable(err error) bool {
	switch {
	case errors.Is(err, actuator.ErrNotFound),
		errors.Is(err, actuator.ErrUnsupported),
		errors.Is(err, ErrCommandTimeout),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// retry runs op until it succeeds, fails permanently or exhausts the policy.
// It returns the last error and the number of attempts made.
func retry(ctx context.Context, policy RetryPolicy, logger Logger, op func(ctx context.Context) error) (int, error) {
	policy = policy.withDefaults()
	delay := policy.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if attempt == policy.MaxRetries || !retryable(lastErr) {
			return attempt + 1, lastErr
		}

		logger.Warn("actuator call failed, retrying",
			"attempt", attempt+1,
			"max_attempts", policy.MaxRetries+1,
			"delay", delay.String(),
			"error", lastErr,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return policy.MaxRetries + 1, lastErr
}
