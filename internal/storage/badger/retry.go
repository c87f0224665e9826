package badger

import (
	"context"
	"time"
)

const defaultWriteAttempts = 3

// withRetry runs a durable write with bounded exponential backoff.
// Badger can report transient conflicts under concurrent writers; the
// orchestration contract retries a small fixed number of times and then
// surfaces the error to the caller's failure path.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultWriteAttempts
	}

	var err error
	backoff := 50 * time.Millisecond
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
