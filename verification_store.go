package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// verificationStore holds email verification tokens. Tokens are stored by
// hash; issuing a new token replaces any outstanding one for the user so
// only the latest link works.
type verificationStore struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	cooldown time.Duration
}

func newVerificationStore(client redis.UniversalClient, prefix string, ttl, cooldown time.Duration) *verificationStore {
	return &verificationStore{client: client, prefix: prefix + "verify:", ttl: ttl, cooldown: cooldown}
}

func (s *verificationStore) tokenKey(tokenHash string) string { return s.prefix + "t:" + tokenHash }
func (s *verificationStore) userKey(userID string) string     { return s.prefix + "u:" + userID }
func (s *verificationStore) cooldownKey(userID string) string { return s.prefix + "cd:" + userID }

// Issue creates a fresh token for userID, invalidating any previous one.
func (s *verificationStore) Issue(ctx context.Context, userID string) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}

	// Drop the previous token before registering the new one.
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

// Peek resolves token to the owning user id without consuming it.
func (s *verificationStore) Peek(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Get(ctx, s.tokenKey(hashToken(token))).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrVerificationExpired
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Consume redeems token and returns the owning user id. Unknown, expired,
// and already-consumed tokens are indistinguishable.
func (s *verificationStore) Consume(ctx context.Context, token string) (string, error) {
	th := hashToken(token)
	userID, err := s.client.GetDel(ctx, s.tokenKey(th)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrVerificationExpired
	}
	if err != nil {
		return "", err
	}
	_ = s.client.Del(ctx, s.userKey(userID)).Err()
	return userID, nil
}

// TryResend reports whether a resend is allowed for userID and, when it
// is, starts the cooldown. SET NX makes the check-and-start atomic.
func (s *verificationStore) TryResend(ctx context.Context, userID string) (bool, error) {
	return s.client.SetNX(ctx, s.cooldownKey(userID), "1", s.cooldown).Result()
}
