package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T, policies map[Scope]Policy) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l, err := NewLimiter(client, "test:rl:", policies)
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	return l, mr
}

func loginPolicies() map[Scope]Policy {
	return map[Scope]Policy{
		ScopeAccount: {
			CaptchaAfter: 3,
			LockAfter:    5,
			Window:       15 * time.Minute,
			LockFor:      5 * time.Minute,
		},
		ScopeChallenge: {
			LockAfter: 10,
			Window:    5 * time.Minute,
			LockFor:   5 * time.Minute,
		},
	}
}

func TestCheckFreshIdentifier(t *testing.T) {
	l, _ := testLimiter(t, loginPolicies())
	d, err := l.Check(context.Background(), ScopeAccount, "a@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || d.RequiresCaptcha || d.Failures != 0 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestCaptchaEscalation(t *testing.T) {
	l, _ := testLimiter(t, loginPolicies())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.RecordFailure(ctx, ScopeAccount, "a@example.com"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	d, err := l.Check(ctx, ScopeAccount, "a@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || !d.RequiresCaptcha {
		t.Fatalf("expected captcha escalation, got %+v", d)
	}
}

func TestLockoutAtThreshold(t *testing.T) {
	l, _ := testLimiter(t, loginPolicies())
	ctx := context.Background()

	var last Decision
	for i := 0; i < 5; i++ {
		var err error
		last, err = l.RecordFailure(ctx, ScopeAccount, "a@example.com")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if last.Allowed {
		t.Fatalf("fifth failure should lock, got %+v", last)
	}
	if last.LockedUntil.IsZero() {
		t.Fatal("LockedUntil not set")
	}

	d, err := l.Check(ctx, ScopeAccount, "a@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.LockedUntil.IsZero() {
		t.Fatalf("expected locked decision, got %+v", d)
	}
}

func TestLockExpires(t *testing.T) {
	l, mr := testLimiter(t, loginPolicies())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.RecordFailure(ctx, ScopeAccount, "a@example.com"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	mr.FastForward(6 * time.Minute)

	d, err := l.Check(ctx, ScopeAccount, "a@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("lock should have expired, got %+v", d)
	}
}

func TestWindowExpiryClearsCounter(t *testing.T) {
	l, mr := testLimiter(t, loginPolicies())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.RecordFailure(ctx, ScopeAccount, "a@example.com"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	mr.FastForward(16 * time.Minute)

	d, err := l.Check(ctx, ScopeAccount, "a@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.RequiresCaptcha || d.Failures != 0 {
		t.Fatalf("window should have reset, got %+v", d)
	}
}

func TestResetClearsState(t *testing.T) {
	l, _ := testLimiter(t, loginPolicies())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.RecordFailure(ctx, ScopeAccount, "a@example.com"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := l.Reset(ctx, ScopeAccount, "a@example.com"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	d, err := l.Check(ctx, ScopeAccount, "a@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || d.RequiresCaptcha || d.Failures != 0 {
		t.Fatalf("expected clean slate, got %+v", d)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	l, _ := testLimiter(t, loginPolicies())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.RecordFailure(ctx, ScopeAccount, "x"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	d, err := l.Check(ctx, ScopeChallenge, "x")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("challenge scope must not inherit account lock: %+v", d)
	}
}

func TestUnknownScope(t *testing.T) {
	l, _ := testLimiter(t, loginPolicies())
	if _, err := l.Check(context.Background(), ScopeIP, "1.2.3.4"); err == nil {
		t.Fatal("expected error for unconfigured scope")
	}
}

func TestNewLimiterPolicyValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bad := []map[Scope]Policy{
		nil,
		{ScopeIP: {LockAfter: 0, Window: time.Minute, LockFor: time.Minute}},
		{ScopeIP: {CaptchaAfter: 5, LockAfter: 5, Window: time.Minute, LockFor: time.Minute}},
		{ScopeIP: {LockAfter: 5, Window: 0, LockFor: time.Minute}},
	}
	for i, policies := range bad {
		if _, err := NewLimiter(client, "", policies); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
