package authgate

import (
	"context"
	"errors"
	"testing"

	"authgate/mailer"
)

func resetTokenFromMail(t *testing.T, f *engineFixture) string {
	t.Helper()
	job := f.mail.Last()
	if job.Template != mailer.TemplatePasswordReset {
		t.Fatalf("expected reset mail, got %+v", job)
	}
	return job.Vars["token"]
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t, nil)
	f.registerActive(t, "alice@example.com", "Sup3rSecret!")
	ctx := context.Background()

	// Hold a live session to prove it dies with the reset.
	res := f.login(t, "alice@example.com", "Sup3rSecret!")

	if err := f.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := resetTokenFromMail(t, f)

	if err := f.engine.ResetPassword(ctx, token, "N3wSecret!pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// Old password dead, new one works.
	if _, err := f.engine.Login(ctx, "alice@example.com", "Sup3rSecret!", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
	f.login(t, "alice@example.com", "N3wSecret!pass")

	// Every pre-reset session is revoked.
	if _, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("old refresh token must fail, got %v", err)
	}
}

func TestResetTokenSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	f.registerActive(t, "alice@example.com", "Sup3rSecret!")
	ctx := context.Background()

	if err := f.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := resetTokenFromMail(t, f)

	if err := f.engine.ResetPassword(ctx, token, "N3wSecret!pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := f.engine.ResetPassword(ctx, token, "An0therPass!x"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("token must be single use, got %v", err)
	}
}

func TestResetTokenExpiry(t *testing.T) {
	f := newFixture(t, nil)
	f.registerActive(t, "alice@example.com", "Sup3rSecret!")
	ctx := context.Background()

	if err := f.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := resetTokenFromMail(t, f)

	f.redis.FastForward(2 * f.engine.cfg.ResetTTL)

	if err := f.engine.ResetPassword(ctx, token, "N3wSecret!pass"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}
}

func TestNewResetTokenInvalidatesOld(t *testing.T) {
	f := newFixture(t, nil)
	f.registerActive(t, "alice@example.com", "Sup3rSecret!")
	ctx := context.Background()

	if err := f.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	oldToken := resetTokenFromMail(t, f)

	if err := f.engine.ForgotPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second ForgotPassword: %v", err)
	}
	newToken := resetTokenFromMail(t, f)

	if err := f.engine.ResetPassword(ctx, oldToken, "N3wSecret!pass"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("old token must be invalid, got %v", err)
	}
	if err := f.engine.ResetPassword(ctx, newToken, "N3wSecret!pass"); err != nil {
		t.Fatalf("new token must work: %v", err)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.ForgotPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown email must be silent, got %v", err)
	}
	if len(f.mail.Jobs) != 0 {
		t.Fatal("no mail for unknown email")
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, nil)
	user := f.registerActive(t, "alice@example.com", "Sup3rSecret!")
	ctx := context.Background()

	other := f.login(t, "alice@example.com", "Sup3rSecret!")
	current := f.login(t, "alice@example.com", "Sup3rSecret!")

	id, err := f.engine.VerifyAccess(ctx, current.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}

	err = f.engine.ChangePassword(ctx, user.ID, "Sup3rSecret!", "N3wSecret!pass", id.SessionID)
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// The changing session survives; the other one is revoked.
	if _, err := f.engine.Refresh(ctx, current.Tokens.RefreshToken); err != nil {
		t.Fatalf("current session must survive: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, other.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("other session must be revoked, got %v", err)
	}

	f.login(t, "alice@example.com", "N3wSecret!pass")
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	f := newFixture(t, nil)
	user := f.registerActive(t, "alice@example.com", "Sup3rSecret!")

	err := f.engine.ChangePassword(context.Background(), user.ID, "wrong", "N3wSecret!pass", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
