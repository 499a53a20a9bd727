package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// enrollmentStore parks a provisional TOTP secret between enable-init and
// enable-complete. The secret only moves to the credential store once the
// user proves they captured it by submitting a valid code.
type enrollmentStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newEnrollmentStore(client redis.UniversalClient, prefix string, ttl time.Duration) *enrollmentStore {
	return &enrollmentStore{client: client, prefix: prefix + "enroll:", ttl: ttl}
}

// Put stores the pending secret for userID, replacing any earlier attempt.
func (s *enrollmentStore) Put(ctx context.Context, userID, secret string) error {
	return s.client.Set(ctx, s.prefix+userID, secret, s.ttl).Err()
}

// Get returns the pending secret for userID.
func (s *enrollmentStore) Get(ctx context.Context, userID string) (string, error) {
	secret, err := s.client.Get(ctx, s.prefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEnrollmentNotFound
	}
	if err != nil {
		return "", err
	}
	return secret, nil
}

// Delete clears the pending secret after completion or abandonment.
func (s *enrollmentStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.prefix+userID).Err()
}
