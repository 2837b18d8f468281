package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Dsec converts a seconds setting to a duration, using def when v is unset.
func Dsec(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

// JitteredDelay spreads base by ±jitterPct percent, capped at cap.
func JitteredDelay(base, cap time.Duration, jitterPct int) time.Duration {
	if jitterPct <= 0 {
		jitterPct = 25
	}
	delta := (rand.Float64()*2 - 1) * float64(jitterPct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	if wait > cap {
		wait = cap
	}
	return wait
}

type ConnectionOptions struct {
	Name          string // used in logs, e.g. "rabbit"
	RetryAttempts int    // <= 0 retries until ctx is done
	Delay         time.Duration
	MaxDelay      time.Duration
	JitterPercent int
	Logger        *slog.Logger
}

// DialWithRetry calls dial with exponential jittered backoff until it
// succeeds, attempts run out, or ctx is cancelled.
func DialWithRetry[T any](ctx context.Context, cfg ConnectionOptions, dial func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	for i := 1; cfg.RetryAttempts <= 0 || i <= cfg.RetryAttempts; i++ {
		conn, err := dial(ctx)
		if err == nil {
			if i > 1 {
				logger.Info(cfg.Name+" connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil || i == cfg.RetryAttempts {
			break
		}

		sleep := JitteredDelay(delay, maxDelay, cfg.JitterPercent)
		logger.Warn(cfg.Name+" dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		if delay*2 < maxDelay {
			delay *= 2
		} else {
			delay = maxDelay
		}
	}

	if ctx.Err() != nil {
		return zero, fmt.Errorf("dial cancelled: %w", ctx.Err())
	}
	return zero, fmt.Errorf("failed to connect to %s after %d attempts: %w",
		cfg.Name, cfg.RetryAttempts, lastErr)
}
