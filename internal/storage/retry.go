package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	retryAttempts    = 4
	retryBackoffBase = 50 * time.Millisecond
)

// Retry runs fn, retrying with jittered exponential backoff while it fails
// with ErrBusy. Other errors (and context cancellation) return immediately.
// The last ErrBusy is surfaced to the caller as a transient failure.
func Retry(ctx context.Context, fn func() error) error {
	backoff := retryBackoffBase
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrBusy) {
			return err
		}
		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return err
}
