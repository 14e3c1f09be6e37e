package llm

import (
	"context"
	"errors"
	"time"
)

// Default retry settings for model calls.
const (
	DefaultRetryAttempts = 3
	DefaultRetryInterval = 10 * time.Second
)

// Retry runs fn up to attempts times, sleeping interval between failures.
// It stops early when ctx is done.
func Retry[T any](ctx context.Context, attempts int, interval time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if i == attempts-1 || interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}
	return zero, lastErr
}

// ChatWithRetry is ChatText wrapped in Retry.
func ChatWithRetry(ctx context.Context, c Client, messages []Message, attempts int, interval time.Duration) (string, error) {
	return Retry(ctx, attempts, interval, func(ctx context.Context) (string, error) {
		return ChatText(ctx, c, messages)
	})
}
