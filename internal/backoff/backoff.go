// Package backoff implements the retry decorator applied to rate-limited
// upstream calls.
package backoff

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/metrics"
)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the number of retries after the first attempt.
	// Zero means a single attempt and no retry.
	MaxAttempts int
	// InitialDelay is the wait before the first retry; each subsequent
	// retry doubles it. Growth is uncapped.
	InitialDelay time.Duration
}

// Executor retries a unit of work when it fails with a rate-limit signal.
// It knows nothing about the work itself, only the rate-limit predicate and
// the delay schedule. Non-rate-limit failures propagate on first occurrence.
type Executor struct {
	cfg    Config
	logger *zap.Logger
	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs an Executor.
func New(cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Do executes fn, retrying rate-limit failures up to MaxAttempts times with
// delays InitialDelay, 2×InitialDelay, 4×InitialDelay, …
func Do[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !audit.IsRateLimit(err) || attempt > e.cfg.MaxAttempts {
			return zero, err
		}
		delay := e.delay(attempt)
		metrics.ObserveBackoffRetry(operation)
		e.logger.Warn("rate limited, backing off",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("backoff wait: %w", sleepErr)
		}
	}
}

// delay computes InitialDelay × 2^(attempt-1).
func (e *Executor) delay(attempt int) time.Duration {
	delay := e.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
