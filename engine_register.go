package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"authgate/mailer"
)

// Register creates a pending account and dispatches the verification
// email. Whether or not the email was already taken, callers receive the
// same nil result so registration cannot be used to enumerate accounts;
// only malformed input produces an error.
func (e *Engine) Register(ctx context.Context, email, plaintext, captchaToken string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return validationErr("email", "not a valid email address")
	}
	if len(plaintext) < 8 {
		return validationErr("password", "must be at least 8 characters")
	}
	if len(plaintext) > 512 {
		return validationErr("password", "too long")
	}

	ok, err := e.captcha.Verify(ctx, captchaToken, clientIP(ctx))
	if err != nil {
		return ErrCaptchaRequired
	}
	if !ok {
		return ErrCaptchaFailed
	}

	hash, err := e.hashPassword(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Role:         e.cfg.DefaultRole,
	})
	if errors.Is(err, ErrEmailAlreadyRegistered) {
		// Swallowed: the caller sees the same success as a fresh signup.
		e.audit(ctx, AuditRegistered, "", email, "duplicate email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	e.metrics.inc(MetricRegistration)
	e.audit(ctx, AuditRegistered, user.ID, user.Email, "")
	e.sendVerification(ctx, user)
	return nil
}

// VerifyEmail redeems a verification token and activates the account. The
// token is only discarded after the account write succeeds, so a transient
// store failure does not burn the link.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrVerificationExpired
	}
	userID, err := retryRead(ctx, func(ctx context.Context) (string, error) {
		return e.verifications.Peek(ctx, token)
	})
	if err != nil {
		return err
	}
	if err := e.users.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if _, err := e.verifications.Consume(ctx, token); err != nil && !errors.Is(err, ErrVerificationExpired) {
		log.Printf("authgate: discard verification token: %v", err)
	}
	e.metrics.inc(MetricEmailVerified)
	e.audit(ctx, AuditEmailVerified, userID, "", "")
	return nil
}

// ResendVerification re-issues the verification email, subject to a
// per-account cooldown. Unknown and already-verified emails return nil so
// the endpoint stays generic.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return validationErr("email", "required")
	}

	user, err := retryRead(ctx, func(ctx context.Context) (*UserRecord, error) {
		return e.users.GetUserByEmail(ctx, email)
	})
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.Status != StatusPendingVerification {
		return nil
	}

	allowed, err := e.verifications.TryResend(ctx, user.ID)
	if err != nil {
		// Cooldown state unavailable: resending is the safe direction, so
		// this read fails open.
		log.Printf("authgate: resend cooldown: %v", err)
		allowed = true
	}
	if !allowed {
		return nil
	}

	e.sendVerification(ctx, user)
	return nil
}

// sendVerification issues a token and enqueues the mail. Delivery is fire
// and forget; a failed enqueue is logged and the user can request a
// resend.
func (e *Engine) sendVerification(ctx context.Context, user *UserRecord) {
	token, err := e.verifications.Issue(ctx, user.ID)
	if err != nil {
		log.Printf("authgate: issue verification token: %v", err)
		return
	}
	err = e.mailer.Enqueue(ctx, mailer.TemplateVerifyEmail, user.Email, map[string]string{
		"token": token,
	})
	if err != nil {
		log.Printf("authgate: enqueue verification mail: %v", err)
	}
}
