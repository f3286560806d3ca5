package retry

import (
	"context"
	"fmt"
	"time"
)

// BackoffFunc возвращает паузу перед попыткой attempt (нумерация с 1).
type BackoffFunc func(attempt int) time.Duration

// Exponential удваивает базовую паузу на каждую попытку, не превышая max.
func Exponential(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// Constant возвращает одну и ту же паузу для всех попыток.
func Constant(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Do выполняет fn до первого успеха, но не более maxAttempts раз.
// Между попытками ждет backoff(attempt); прерывается по ctx.
func Do(ctx context.Context, maxAttempts int, backoff BackoffFunc, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		return fmt.Errorf("retry: maxAttempts must be >= 1, got %d", maxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	return fmt.Errorf("retry: %d attempts exhausted: %w", maxAttempts, lastErr)
}
