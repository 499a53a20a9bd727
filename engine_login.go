package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"authgate/ratelimit"
)

// Login runs the password step of the authentication state machine. On
// success it either returns issued tokens directly or, for MFA-enabled
// accounts, a challenge id the client must confirm via ConfirmLoginMFA.
//
// The limiter is consulted before the credential store so locked or
// CAPTCHA-gated attempts never pay for a hash computation. Limiter read
// failures are retried once and then deny the login; this path fails
// closed.
func (e *Engine) Login(ctx context.Context, email, plaintext, captchaToken string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		return nil, validationErr("credentials", "email and password are required")
	}

	if err := e.checkLoginGate(ctx, email, captchaToken); err != nil {
		return nil, err
	}

	user, err := retryRead(ctx, func(ctx context.Context) (*UserRecord, error) {
		return e.users.GetUserByEmail(ctx, email)
	})
	if errors.Is(err, ErrUserNotFound) {
		// Burn a verification anyway so response timing does not reveal
		// whether the email exists.
		_, _ = e.verifyPassword(ctx, plaintext, e.decoyHash)
		return nil, e.loginFailed(ctx, email, "unknown email")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := e.verifyPassword(ctx, plaintext, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, e.loginFailed(ctx, email, "wrong password")
	}

	switch user.Status {
	case StatusActive:
	case StatusPendingVerification:
		// Correct password, unverified email. No failure is recorded and
		// no counters reset, so this outcome is invisible to the limiter.
		return nil, ErrAccountUnverified
	default:
		return nil, ErrAccountSuspended
	}

	if e.cfg.UpgradeHashOnLogin {
		e.maybeUpgradeHash(ctx, user, plaintext)
	}

	if user.MFAEnabled {
		challengeID, err := e.challenges.Create(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("create challenge: %w", err)
		}
		e.metrics.inc(MetricChallengeIssued)
		e.audit(ctx, AuditChallengeIssued, user.ID, user.Email, "")
		return &LoginResult{Requires2FA: true, ChallengeID: challengeID}, nil
	}

	return e.finishLogin(ctx, user)
}

// checkLoginGate evaluates the IP and account limiter scopes and, when
// either demands it, verifies the CAPTCHA solution.
func (e *Engine) checkLoginGate(ctx context.Context, email, captchaToken string) error {
	captchaNeeded := false

	if ip := clientIP(ctx); ip != "" {
		dec, err := retryRead(ctx, func(ctx context.Context) (ratelimit.Decision, error) {
			return e.limiter.Check(ctx, ratelimit.ScopeIP, ip)
		})
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if !dec.Allowed {
			e.metrics.inc(MetricLoginLocked)
			return &LockoutError{Until: dec.LockedUntil}
		}
		captchaNeeded = captchaNeeded || dec.RequiresCaptcha
	}

	dec, err := retryRead(ctx, func(ctx context.Context) (ratelimit.Decision, error) {
		return e.limiter.Check(ctx, ratelimit.ScopeAccount, email)
	})
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !dec.Allowed {
		e.metrics.inc(MetricLoginLocked)
		e.audit(ctx, AuditLoginLocked, "", email, "")
		return &LockoutError{Until: dec.LockedUntil}
	}
	captchaNeeded = captchaNeeded || dec.RequiresCaptcha

	if !captchaNeeded {
		return nil
	}
	if captchaToken == "" {
		e.metrics.inc(MetricCaptchaRequired)
		return ErrCaptchaRequired
	}
	ok, err := e.captcha.Verify(ctx, captchaToken, clientIP(ctx))
	if err != nil {
		// Verification backend unreachable: fail closed.
		return ErrCaptchaRequired
	}
	if !ok {
		return ErrCaptchaFailed
	}
	return nil
}

// loginFailed records the failure on both scopes and returns the generic
// credentials error. Counters are bumped before returning so an aborted
// response still counts toward lockout.
func (e *Engine) loginFailed(ctx context.Context, email, detail string) error {
	if ip := clientIP(ctx); ip != "" {
		if _, err := e.limiter.RecordFailure(ctx, ratelimit.ScopeIP, ip); err != nil {
			log.Printf("authgate: record ip failure: %v", err)
		}
	}
	if _, err := e.limiter.RecordFailure(ctx, ratelimit.ScopeAccount, email); err != nil {
		log.Printf("authgate: record account failure: %v", err)
	}
	e.metrics.inc(MetricLoginFailure)
	e.audit(ctx, AuditLoginFailure, "", email, detail)
	return ErrInvalidCredentials
}

// finishLogin opens the session after all factors have passed and clears
// the account failure scope. The IP scope keeps counting across successes.
func (e *Engine) finishLogin(ctx context.Context, user *UserRecord) (*LoginResult, error) {
	pair, err := e.openSession(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := e.limiter.Reset(ctx, ratelimit.ScopeAccount, user.Email); err != nil {
		log.Printf("authgate: reset account limiter: %v", err)
	}
	e.metrics.inc(MetricLoginSuccess)
	e.audit(ctx, AuditLoginSuccess, user.ID, user.Email, "")
	return &LoginResult{Tokens: pair}, nil
}

// maybeUpgradeHash rehashes the password when the stored parameters are
// weaker than the configured ones. Best effort.
func (e *Engine) maybeUpgradeHash(ctx context.Context, user *UserRecord, plaintext string) {
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	rehashed, err := e.hashPassword(ctx, plaintext)
	if err != nil {
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, rehashed); err != nil {
		log.Printf("authgate: upgrade password hash: %v", err)
		return
	}
	user.PasswordHash = rehashed
}
