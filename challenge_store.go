package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// loginChallengeStore holds pending second-factor challenges. A challenge
// is an opaque id mapping to the user who passed the password step; it is
// consumed on success and dies by TTL otherwise. Any worker instance can
// complete a challenge another instance created.
type loginChallengeStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newLoginChallengeStore(client redis.UniversalClient, prefix string, ttl time.Duration) *loginChallengeStore {
	return &loginChallengeStore{client: client, prefix: prefix + "chal:", ttl: ttl}
}

// Create registers a challenge for userID and returns its id.
func (s *loginChallengeStore) Create(ctx context.Context, userID string) (string, error) {
	id, err := randomToken(24)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.prefix+id, userID, s.ttl).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// Peek resolves a challenge id without consuming it, so a wrong code does
// not burn the challenge.
func (s *loginChallengeStore) Peek(ctx context.Context, id string) (string, error) {
	userID, err := s.client.Get(ctx, s.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrChallengeExpired
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Consume resolves and deletes a challenge in one step.
func (s *loginChallengeStore) Consume(ctx context.Context, id string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrChallengeExpired
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Expire force-deletes a challenge, used when its failure budget is spent.
func (s *loginChallengeStore) Expire(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}
