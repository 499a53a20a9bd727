package authgate

import (
	"context"
	"errors"
	"testing"
)

// flakyUserStore fails reads a set number of times before delegating, to
// exercise the transient-read retry.
type flakyUserStore struct {
	*memoryStore
	emailFailures int
	idFailures    int
	markFailures  int
	emailCalls    int
}

var errStoreDown = errors.New("store: connection reset")

func (s *flakyUserStore) GetUserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	s.emailCalls++
	if s.emailFailures > 0 {
		s.emailFailures--
		return nil, errStoreDown
	}
	return s.memoryStore.GetUserByEmail(ctx, email)
}

func (s *flakyUserStore) GetUserByID(ctx context.Context, id string) (*UserRecord, error) {
	if s.idFailures > 0 {
		s.idFailures--
		return nil, errStoreDown
	}
	return s.memoryStore.GetUserByID(ctx, id)
}

func (s *flakyUserStore) MarkEmailVerified(ctx context.Context, userID string) error {
	if s.markFailures > 0 {
		s.markFailures--
		return errStoreDown
	}
	return s.memoryStore.MarkEmailVerified(ctx, userID)
}

func TestRetryReadRecoversOnce(t *testing.T) {
	calls := 0
	v, err := retryRead(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errStoreDown
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("retryRead = %d, %v; want 42, nil", v, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryReadGivesUpAfterOneRetry(t *testing.T) {
	calls := 0
	_, err := retryRead(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errStoreDown
	})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected errStoreDown, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}

func TestRetryReadSkipsDomainErrors(t *testing.T) {
	for _, sentinel := range []error{ErrUserNotFound, ErrChallengeExpired, ErrVerificationExpired} {
		calls := 0
		_, err := retryRead(context.Background(), func(context.Context) (int, error) {
			calls++
			return 0, sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected %v, got %v", sentinel, err)
		}
		if calls != 1 {
			t.Fatalf("%v: expected 1 call, got %d", sentinel, calls)
		}
	}
}

func TestRetryReadHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retryRead(ctx, func(context.Context) (int, error) {
		calls++
		return 0, errStoreDown
	})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", calls)
	}
}

func TestLoginRetriesTransientLookup(t *testing.T) {
	f := newFixture(t, nil)
	f.registerActive(t, "alice@example.com", "Sup3rSecret!")

	flaky := &flakyUserStore{memoryStore: f.store, emailFailures: 1}
	f.engine.users = flaky

	res := f.login(t, "alice@example.com", "Sup3rSecret!")
	if res.Tokens == nil {
		t.Fatal("expected tokens after recovered lookup")
	}
	if flaky.emailCalls != 2 {
		t.Fatalf("expected 2 lookup calls, got %d", flaky.emailCalls)
	}
}

func TestLoginFailsAfterRetryBudget(t *testing.T) {
	f := newFixture(t, nil)
	f.registerActive(t, "alice@example.com", "Sup3rSecret!")

	f.engine.users = &flakyUserStore{memoryStore: f.store, emailFailures: 2}

	_, err := f.engine.Login(context.Background(), "alice@example.com", "Sup3rSecret!", "")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
}

func TestRefreshRetriesTransientLookup(t *testing.T) {
	f := newFixture(t, nil)
	f.registerActive(t, "alice@example.com", "Sup3rSecret!")
	res := f.login(t, "alice@example.com", "Sup3rSecret!")

	f.engine.users = &flakyUserStore{memoryStore: f.store, idFailures: 1}

	pair, err := f.engine.Refresh(context.Background(), res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("incomplete token pair")
	}
}
