package authgate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"authgate/captcha"
	"authgate/mailer"
	"authgate/password"
)

type recoveryEntry struct {
	hash string
	used bool
}

// memoryStore is an in-memory CredentialStore for engine tests.
type memoryStore struct {
	mu       sync.Mutex
	seq      int
	byID     map[string]*UserRecord
	byEmail  map[string]string
	recovery map[string][]*recoveryEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		byID:     map[string]*UserRecord{},
		byEmail:  map[string]string{},
		recovery: map[string][]*recoveryEntry{},
	}
}

func (s *memoryStore) CreateUser(_ context.Context, in CreateUserInput) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[in.Email]; exists {
		return nil, ErrEmailAlreadyRegistered
	}
	s.seq++
	user := &UserRecord{
		ID:             fmt.Sprintf("u%03d", s.seq),
		Email:          in.Email,
		PasswordHash:   in.PasswordHash,
		Status:         StatusPendingVerification,
		Role:           in.Role,
		MFALastCounter: -1,
		CreatedAt:      time.Now().UTC(),
	}
	s.byID[user.ID] = user
	s.byEmail[in.Email] = user.ID
	return cloneUser(user), nil
}

func (s *memoryStore) GetUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *memoryStore) GetUserByID(_ context.Context, id string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (s *memoryStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = hash
	return nil
}

func (s *memoryStore) MarkEmailVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	if user.EmailVerifiedAt == nil {
		now := time.Now().UTC()
		user.EmailVerifiedAt = &now
		user.Status = StatusActive
	}
	return nil
}

func (s *memoryStore) SetStatus(_ context.Context, userID string, status AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Status = status
	if status == StatusDeleted {
		delete(s.byEmail, user.Email)
		user.Email = "deleted+" + userID
	}
	return nil
}

func (s *memoryStore) EnableMFA(_ context.Context, userID, secret string, recoveryHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	if user.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	user.MFAEnabled = true
	user.MFASecret = secret
	user.MFALastCounter = -1
	entries := make([]*recoveryEntry, 0, len(recoveryHashes))
	for _, h := range recoveryHashes {
		entries = append(entries, &recoveryEntry{hash: h})
	}
	s.recovery[userID] = entries
	return nil
}

func (s *memoryStore) DisableMFA(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.MFAEnabled = false
	user.MFASecret = ""
	user.MFALastCounter = -1
	delete(s.recovery, userID)
	return nil
}

func (s *memoryStore) ReplaceRecoveryCodes(_ context.Context, userID string, recoveryHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}
	entries := make([]*recoveryEntry, 0, len(recoveryHashes))
	for _, h := range recoveryHashes {
		entries = append(entries, &recoveryEntry{hash: h})
	}
	s.recovery[userID] = entries
	return nil
}

func (s *memoryStore) SetMFACounter(_ context.Context, userID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	if counter > user.MFALastCounter {
		user.MFALastCounter = counter
	}
	return nil
}

func (s *memoryStore) ConsumeRecoveryCode(_ context.Context, userID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.recovery[userID] {
		if entry.hash == codeHash && !entry.used {
			entry.used = true
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) unusedRecoveryCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.recovery[userID] {
		if !entry.used {
			n++
		}
	}
	return n
}

func cloneUser(u *UserRecord) *UserRecord {
	c := *u
	if u.EmailVerifiedAt != nil {
		t := *u.EmailVerifiedAt
		c.EmailVerifiedAt = &t
	}
	return &c
}

// testConfig keeps hashing cheap so the suite stays fast.
func testConfig() Config {
	cfg := defaultConfig()
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.HashWorkers = 2
	return cfg
}

type engineFixture struct {
	engine *Engine
	store  *memoryStore
	redis  *miniredis.Miniredis
	mail   *mailer.Capture
}

func newFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()
	return buildFixture(t, mutate, nil)
}

func newFixtureWithSink(t *testing.T, sink AuditSink) *engineFixture {
	t.Helper()
	return buildFixture(t, nil, sink)
}

func buildFixture(t *testing.T, mutate func(*Config), sink AuditSink) *engineFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := newMemoryStore()
	mail := &mailer.Capture{}

	builder := NewBuilder().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithCaptcha(captcha.Pass).
		WithMailer(mail)
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &engineFixture{engine: engine, store: store, redis: mr, mail: mail}
}

// registerActive creates a verified active user through the real flows.
func (f *engineFixture) registerActive(t *testing.T, email, plaintext string) *UserRecord {
	t.Helper()
	ctx := context.Background()

	if err := f.engine.Register(ctx, email, plaintext, "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := f.mail.Last().Vars["token"]
	if token == "" {
		t.Fatal("no verification token enqueued")
	}
	if err := f.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	user, err := f.store.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	return user
}

// login runs the password step and fails the test on error.
func (f *engineFixture) login(t *testing.T, email, plaintext string) *LoginResult {
	t.Helper()
	res, err := f.engine.Login(context.Background(), email, plaintext, "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}
