package server

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const retryBaseDelay = 50 * time.Millisecond

// permanentError wraps an error that a retry cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// withRetry runs op and, on a transient failure, retries once after a
// jittered backoff. A permanentError aborts immediately and unwraps.
func withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}

	delay := retryBaseDelay + time.Duration(rand.Int63n(int64(retryBaseDelay)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return err
	}

	err = op()
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}
