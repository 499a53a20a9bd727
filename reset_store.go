package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// resetStore holds password reset tokens, stored by hash with a short TTL.
// At most one token per user is honored: issuing a new token invalidates
// the previous one, and consumption is a one-shot GETDEL.
type resetStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newResetStore(client redis.UniversalClient, prefix string, ttl time.Duration) *resetStore {
	return &resetStore{client: client, prefix: prefix + "reset:", ttl: ttl}
}

func (s *resetStore) tokenKey(tokenHash string) string { return s.prefix + "t:" + tokenHash }
func (s *resetStore) userKey(userID string) string     { return s.prefix + "u:" + userID }

// Issue creates a fresh reset token for userID, replacing any outstanding
// one.
func (s *resetStore) Issue(ctx context.Context, userID string) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}

	if old, err := s.client.Get(ctx, s.userKey(userID)).Result(); err == nil {
		_ = s.client.Del(ctx, s.tokenKey(old)).Err()
	}

	th := hashToken(token)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(th), userID, s.ttl)
	pipe.Set(ctx, s.userKey(userID), th, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// Consume redeems token exactly once and returns the owning user id.
func (s *resetStore) Consume(ctx context.Context, token string) (string, error) {
	th := hashToken(token)
	userID, err := s.client.GetDel(ctx, s.tokenKey(th)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrResetTokenInvalid
	}
	if err != nil {
		return "", err
	}
	_ = s.client.Del(ctx, s.userKey(userID)).Err()
	return userID, nil
}

// InvalidateAll drops any outstanding token for userID, used after a
// successful password change.
func (s *resetStore) InvalidateAll(ctx context.Context, userID string) error {
	th, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.client.Del(ctx, s.tokenKey(th), s.userKey(userID)).Err()
}
