package authgate

import (
	"context"
	"errors"
	"testing"

	"authgate/mailer"
)

func TestRegisterVerifyLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "alice@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	job := f.mail.Last()
	if job.Template != mailer.TemplateVerifyEmail || job.Recipient != "alice@example.com" {
		t.Fatalf("unexpected mail job: %+v", job)
	}
	if err := f.engine.VerifyEmail(ctx, job.Vars["token"]); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	res := f.login(t, "alice@example.com", "Sup3rSecret!")
	if res.Requires2FA {
		t.Fatal("fresh account must not require 2FA")
	}
	if res.Tokens == nil || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", res)
	}
	if res.Tokens.ExpiresIn != 420 {
		t.Fatalf("ExpiresIn = %d, want 420", res.Tokens.ExpiresIn)
	}
}

func TestLoginBeforeVerification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "bob@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Correct password, unverified account.
	_, err := f.engine.Login(ctx, "bob@example.com", "Sup3rSecret!", "")
	if !errors.Is(err, ErrAccountUnverified) {
		t.Fatalf("expected ErrAccountUnverified, got %v", err)
	}
}

func TestRegisterDuplicateIsSilent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "carol@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sent := len(f.mail.Jobs)

	if err := f.engine.Register(ctx, "carol@example.com", "AnotherPass1!", "solved"); err != nil {
		t.Fatalf("duplicate Register must not error, got %v", err)
	}
	if len(f.mail.Jobs) != sent {
		t.Fatal("duplicate registration must not enqueue mail")
	}

	// The original password still works after verification.
	job := f.mail.Jobs[sent-1]
	if err := f.engine.VerifyEmail(ctx, job.Vars["token"]); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	f.login(t, "carol@example.com", "Sup3rSecret!")
}

func TestRegisterRejectsMalformedInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var vErr *ValidationError
	if err := f.engine.Register(ctx, "not-an-email", "Sup3rSecret!", "solved"); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := f.engine.Register(ctx, "dave@example.com", "short", "solved"); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestVerifyEmailBadToken(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.VerifyEmail(context.Background(), "bogus"); !errors.Is(err, ErrVerificationExpired) {
		t.Fatalf("expected ErrVerificationExpired, got %v", err)
	}
}

func TestVerifyEmailTokenSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "erin@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := f.mail.Last().Vars["token"]

	if err := f.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if err := f.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrVerificationExpired) {
		t.Fatalf("token must be single use, got %v", err)
	}
}

func TestResendVerificationCooldown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "frank@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sent := len(f.mail.Jobs)

	if err := f.engine.ResendVerification(ctx, "frank@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	if len(f.mail.Jobs) != sent+1 {
		t.Fatal("first resend should enqueue")
	}

	// Within the cooldown: silently skipped.
	if err := f.engine.ResendVerification(ctx, "frank@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	if len(f.mail.Jobs) != sent+1 {
		t.Fatal("second resend within cooldown must not enqueue")
	}

	f.redis.FastForward(f.engine.cfg.ResendCooldown * 2)
	if err := f.engine.ResendVerification(ctx, "frank@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	if len(f.mail.Jobs) != sent+2 {
		t.Fatal("resend after cooldown should enqueue")
	}
}

func TestResendVerificationUnknownEmail(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.ResendVerification(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown email must be silent, got %v", err)
	}
	if len(f.mail.Jobs) != 0 {
		t.Fatal("no mail for unknown email")
	}
}

func TestResendInvalidatesOldToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "gina@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	oldToken := f.mail.Last().Vars["token"]

	if err := f.engine.ResendVerification(ctx, "gina@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	newToken := f.mail.Last().Vars["token"]

	if err := f.engine.VerifyEmail(ctx, oldToken); !errors.Is(err, ErrVerificationExpired) {
		t.Fatalf("old token must be invalid after resend, got %v", err)
	}
	if err := f.engine.VerifyEmail(ctx, newToken); err != nil {
		t.Fatalf("new token must verify: %v", err)
	}
}

func TestVerifyEmailSurvivesStoreFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "alice@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := f.mail.Last().Vars["token"]

	f.engine.users = &flakyUserStore{memoryStore: f.store, markFailures: 1}
	if err := f.engine.VerifyEmail(ctx, token); err == nil {
		t.Fatal("expected the store error to surface")
	}

	// The link was not burned by the failed write; the same token still
	// verifies once the store recovers.
	if err := f.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail after recovery: %v", err)
	}
	user, err := f.store.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if user.Status != StatusActive {
		t.Fatalf("expected active account, got %s", user.Status)
	}
}

func TestResendVerificationFailsOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Register(ctx, "alice@example.com", "Sup3rSecret!", "solved"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Cooldown state unreachable: the resend proceeds instead of erroring.
	f.redis.SetError("cache down")
	if err := f.engine.ResendVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ResendVerification with cache down: %v", err)
	}

	// Once the cache is back the enqueue goes through; the failed SETNX
	// never started a cooldown.
	f.redis.SetError("")
	sent := len(f.mail.Jobs)
	if err := f.engine.ResendVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	if len(f.mail.Jobs) != sent+1 {
		t.Fatalf("expected a resent mail, got %d jobs (had %d)", len(f.mail.Jobs), sent)
	}
}
