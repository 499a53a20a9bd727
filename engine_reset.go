package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"authgate/mailer"
	"authgate/ratelimit"
)

// ForgotPassword starts the reset flow. The result is nil for unknown
// emails too; only the mail's presence or absence distinguishes them, and
// only to the inbox owner.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return validationErr("email", "required")
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.Status == StatusSuspended || user.Status == StatusDeleted {
		return nil
	}

	token, err := e.resets.Issue(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	err = e.mailer.Enqueue(ctx, mailer.TemplatePasswordReset, user.Email, map[string]string{
		"token": token,
	})
	if err != nil {
		log.Printf("authgate: enqueue reset mail: %v", err)
	}
	e.audit(ctx, AuditPasswordResetIssued, user.ID, user.Email, "")
	return nil
}

// ResetPassword redeems a single-use reset token, replaces the password,
// and signs the user out everywhere.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return validationErr("password", "must be at least 8 characters")
	}
	if len(newPassword) > 512 {
		return validationErr("password", "too long")
	}

	userID, err := e.resets.Consume(ctx, token)
	if err != nil {
		return err
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := e.hashPassword(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if _, err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		log.Printf("authgate: revoke sessions after reset: %v", err)
	}
	if err := e.limiter.Reset(ctx, ratelimit.ScopeAccount, user.Email); err != nil {
		log.Printf("authgate: reset account limiter: %v", err)
	}

	err = e.mailer.Enqueue(ctx, mailer.TemplatePasswordChanged, user.Email, nil)
	if err != nil {
		log.Printf("authgate: enqueue password-changed mail: %v", err)
	}
	e.metrics.inc(MetricPasswordReset)
	e.audit(ctx, AuditPasswordResetDone, userID, user.Email, "")
	return nil
}

// ChangePassword replaces the password for an authenticated user after
// re-verifying the current one. Every session except keepSessionID (when
// non-empty) is revoked, and any outstanding reset token dies with the old
// password.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, newPassword, keepSessionID string) error {
	if len(newPassword) < 8 {
		return validationErr("password", "must be at least 8 characters")
	}
	if len(newPassword) > 512 {
		return validationErr("password", "too long")
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	ok, err := e.verifyPassword(ctx, current, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := e.hashPassword(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := e.revokeAllExcept(ctx, userID, keepSessionID); err != nil {
		log.Printf("authgate: revoke sessions after change: %v", err)
	}
	if err := e.resets.InvalidateAll(ctx, userID); err != nil {
		log.Printf("authgate: invalidate reset tokens: %v", err)
	}
	if err := e.limiter.Reset(ctx, ratelimit.ScopeAccount, user.Email); err != nil {
		log.Printf("authgate: reset account limiter: %v", err)
	}

	e.audit(ctx, AuditPasswordChanged, userID, user.Email, "")
	return nil
}

func (e *Engine) revokeAllExcept(ctx context.Context, userID, keepSessionID string) error {
	if keepSessionID == "" {
		_, err := e.sessions.DeleteAllForUser(ctx, userID)
		return err
	}
	ids, err := e.sessions.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == keepSessionID {
			continue
		}
		if err := e.sessions.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
