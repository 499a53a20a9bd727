package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session exists for the given id.
	ErrNotFound = errors.New("session: not found")
	// ErrRefreshReplayed is returned when a rotation presents a refresh
	// hash that is not the session's current one. The caller must revoke
	// the whole lineage.
	ErrRefreshReplayed = errors.New("session: refresh token replayed")
)

// rotateScript swaps the refresh hash only when the presented hash matches
// the stored one. The hash lives at a fixed offset so the record never
// needs decoding server-side. Returns -1 when the key is gone, 0 on a
// mismatch, 1 on success.
var rotateScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
if string.sub(v, 2, 33) ~= ARGV[1] then return 0 end
local nv = string.sub(v, 1, 1) .. ARGV[2] .. string.sub(v, 34, 49) .. ARGV[3] .. string.sub(v, 58, -1)
redis.call('SET', KEYS[1], nv, 'PX', ARGV[4])
return 1
`)

// Store is the Redis-backed session registry.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewStore returns a Store writing under keyPrefix.
func NewStore(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "ag:sess:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

func (s *Store) userIndexKey(userID string) string {
	return s.keyPrefix + "u:" + userID
}

// Save writes sess and registers it in the per-user index. The record and
// the index entry both expire with the session.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := sess.encode()
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: expiry %v is in the past", sess.ExpiresAt)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(sess.ID), data, ttl)
	pipe.SAdd(ctx, s.userIndexKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, s.userIndexKey(sess.UserID), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Get loads the session for sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(sessionID, data)
}

// Rotate atomically replaces the session's refresh hash, provided oldHash
// is still current. A mismatch means the old token was already redeemed
// once; the session is deleted before ErrRefreshReplayed is returned so the
// whole lineage dies with the replay.
func (s *Store) Rotate(ctx context.Context, sessionID string, oldHash, newHash [32]byte, rotatedAt, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return ErrNotFound
	}

	var rotatedBuf [8]byte
	binary.BigEndian.PutUint64(rotatedBuf[:], uint64(rotatedAt.Unix()))

	res, err := rotateScript.Run(ctx, s.client,
		[]string{s.key(sessionID)},
		string(oldHash[:]), string(newHash[:]), string(rotatedBuf[:]),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return err
	}
	switch res {
	case 1:
		return nil
	case -1:
		return ErrNotFound
	default:
		// Replay: kill the lineage.
		if sess, gerr := s.Get(ctx, sessionID); gerr == nil {
			_ = s.Delete(ctx, sess)
		}
		return ErrRefreshReplayed
	}
}

// Delete removes sess and its index entry.
func (s *Store) Delete(ctx context.Context, sess *Session) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(sess.ID))
	pipe.SRem(ctx, s.userIndexKey(sess.UserID), sess.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteByID removes the session for sessionID, resolving the user index
// entry via the stored record. Missing sessions are not an error.
func (s *Store) DeleteByID(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Delete(ctx, sess)
}

// DeleteAllForUser revokes every live session of userID and returns how
// many were removed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.userIndexKey(userID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ActiveSessionIDs lists the ids currently indexed for userID. Entries for
// sessions that expired before the index did are filtered out.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	live := ids[:0]
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			live = append(live, id)
		} else {
			_ = s.client.SRem(ctx, s.userIndexKey(userID), id).Err()
		}
	}
	return live, nil
}
