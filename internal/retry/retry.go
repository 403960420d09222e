package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Func defines the function signature for a retryable operation.
type Func func(ctx context.Context) error

// Execute performs an operation with a retry mechanism. Attempts run in
// stages, each with its own interval; the last error is returned wrapped.
func Execute(ctx context.Context, cfg *Config, logger *zap.Logger, op Func) error {
	// If no retry configuration is provided, just execute the operation
	if cfg == nil || !cfg.Enable {
		return op(ctx)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stages := []struct {
		attempts int
		interval time.Duration
	}{
		{cfg.InitialAttempts, cfg.InitialInterval},
		{cfg.MinuteAttempts, cfg.MinuteInterval},
	}

	total := 0
	for _, stage := range stages {
		total += stage.attempts
	}

	var lastErr error
	attempt := 0
	for _, stage := range stages {
		for i := 0; i < stage.attempts; i++ {
			attempt++
			if lastErr = op(ctx); lastErr == nil {
				return nil
			}
			if attempt == total {
				break
			}

			logger.Warn("Attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", total),
				zap.Duration("wait", stage.interval),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(stage.interval):
			}
		}
	}

	if cfg.FinalRetryTimeout > 0 {
		finalCtx, cancel := context.WithTimeout(ctx, cfg.FinalRetryTimeout)
		defer cancel()
		if lastErr = op(finalCtx); lastErr == nil {
			return nil
		}
		attempt++
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempt, lastErr)
}
