package authgate

import (
	"context"
	"errors"
	"time"

	"authgate/session"
)

// readRetryDelay is the backoff before the single retry of an idempotent
// read against the store or cache.
const readRetryDelay = 75 * time.Millisecond

// retryRead runs an idempotent read and, when it fails with a transient
// infrastructure error, runs it once more after a short backoff. Writes
// must not go through here: without an idempotency key a blind retry can
// double-count.
func retryRead[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !transientErr(err) {
		return v, err
	}
	select {
	case <-time.After(readRetryDelay):
	case <-ctx.Done():
		return v, err
	}
	return fn(ctx)
}

// transientErr reports whether err looks like infrastructure trouble
// rather than a domain outcome worth returning as is.
func transientErr(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrVerificationExpired),
		errors.Is(err, ErrResetTokenInvalid),
		errors.Is(err, ErrEnrollmentNotFound),
		errors.Is(err, session.ErrNotFound):
		return false
	}
	return true
}
