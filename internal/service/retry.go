package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geniusbot/executor/internal/domain"
)

// Backoff returns base·2^attempt capped at maxDelay. Negative attempts
// return base.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		return base
	}
	if attempt > 30 {
		return maxDelay
	}
	d := base * time.Duration(1<<attempt)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// retryTransient calls fn until it succeeds, returns a non-transient error or
// maxAttempts is reached. Exhausting the attempts on transient errors is
// reported as ErrAdapterFatal.
func retryTransient(
	ctx context.Context,
	logger *slog.Logger,
	op string,
	maxAttempts int,
	base, maxDelay time.Duration,
	fn func(ctx context.Context) error,
) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		lastErr = err
		logger.Warn("transient venue error, retrying",
			"op", op, "attempt", attempt, "max", maxAttempts, "err", err)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s cancelled after %d attempts: %v", domain.ErrAdapterFatal, op, attempt, lastErr)
			case <-time.After(Backoff(attempt-1, base, maxDelay)):
			}
		}
	}
	return fmt.Errorf("%w: %s gave up after %d attempts: %v", domain.ErrAdapterFatal, op, maxAttempts, lastErr)
}
