package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"authgate/ratelimit"
)

const recoveryCodeCount = 10

// ConfirmLoginMFA completes the second factor of a pending login. Exactly
// one of otp or recoveryCode must be supplied. The challenge has its own
// narrow failure budget; once spent, the challenge is force-expired and
// the client must run the full login again.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, challengeID, otp, recoveryCode string) (*LoginResult, error) {
	if challengeID == "" {
		return nil, validationErr("challengeId", "required")
	}
	if (otp == "") == (recoveryCode == "") {
		return nil, validationErr("otp", "supply exactly one of otp or recoveryCode")
	}

	dec, err := retryRead(ctx, func(ctx context.Context) (ratelimit.Decision, error) {
		return e.limiter.Check(ctx, ratelimit.ScopeChallenge, challengeID)
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !dec.Allowed {
		_ = e.challenges.Expire(ctx, challengeID)
		return nil, ErrChallengeExpired
	}

	userID, err := retryRead(ctx, func(ctx context.Context) (string, error) {
		return e.challenges.Peek(ctx, challengeID)
	})
	if err != nil {
		return nil, err
	}
	user, err := retryRead(ctx, func(ctx context.Context) (*UserRecord, error) {
		return e.users.GetUserByID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.MFAEnabled || user.Status != StatusActive {
		// MFA was disabled or the account changed state mid-challenge.
		_ = e.challenges.Expire(ctx, challengeID)
		return nil, ErrChallengeExpired
	}

	var passed bool
	if otp != "" {
		ok, counter := validateTOTP(user.MFASecret, otp, e.now(), user.MFALastCounter)
		if ok {
			if err := e.users.SetMFACounter(ctx, user.ID, counter); err != nil {
				return nil, fmt.Errorf("persist totp counter: %w", err)
			}
			passed = true
		}
	} else {
		code := strings.ToLower(strings.TrimSpace(recoveryCode))
		used, err := e.users.ConsumeRecoveryCode(ctx, user.ID, hashToken(code))
		if err != nil {
			return nil, fmt.Errorf("consume recovery code: %w", err)
		}
		if used {
			passed = true
			e.metrics.inc(MetricRecoveryCodeUsed)
		}
	}

	if !passed {
		fdec, err := e.limiter.RecordFailure(ctx, ratelimit.ScopeChallenge, challengeID)
		if err != nil {
			log.Printf("authgate: record challenge failure: %v", err)
		}
		e.metrics.inc(MetricChallengeFailure)
		e.audit(ctx, AuditChallengeFailed, user.ID, user.Email, "")
		if err == nil && !fdec.Allowed {
			_ = e.challenges.Expire(ctx, challengeID)
			return nil, ErrChallengeExpired
		}
		return nil, ErrInvalidOTP
	}

	if _, err := e.challenges.Consume(ctx, challengeID); err != nil {
		// Lost a race with another confirmation or the TTL.
		return nil, ErrChallengeExpired
	}
	if err := e.limiter.Reset(ctx, ratelimit.ScopeChallenge, challengeID); err != nil {
		log.Printf("authgate: reset challenge limiter: %v", err)
	}

	e.metrics.inc(MetricChallengeSuccess)
	e.audit(ctx, AuditChallengeSucceeded, user.ID, user.Email, "")
	return e.finishLogin(ctx, user)
}

// BeginMFAEnrollment generates a provisional TOTP secret for the user and
// returns it with the otpauth provisioning URL. The secret is only
// persisted once CompleteMFAEnrollment proves the user captured it.
func (e *Engine) BeginMFAEnrollment(ctx context.Context, userID string) (secret, provisioningURL string, err error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("lookup user: %w", err)
	}
	if user.MFAEnabled {
		return "", "", ErrMFAAlreadyEnabled
	}

	secret, err = generateTOTPSecret()
	if err != nil {
		return "", "", err
	}
	if err := e.enrollments.Put(ctx, userID, secret); err != nil {
		return "", "", fmt.Errorf("store enrollment: %w", err)
	}
	return secret, otpauthURL(e.cfg.TOTPIssuer, user.Email, secret), nil
}

// CompleteMFAEnrollment verifies the first code against the pending secret
// and, on success, enables MFA and returns the recovery code batch. The
// plaintext codes are returned exactly once; only their hashes are stored.
func (e *Engine) CompleteMFAEnrollment(ctx context.Context, userID, otp string) ([]string, error) {
	secret, err := e.enrollments.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, _ := validateTOTP(secret, otp, e.now(), -1)
	if !ok {
		return nil, ErrInvalidOTP
	}

	codes, hashes, err := newRecoveryBatch()
	if err != nil {
		return nil, err
	}

	if err := e.users.EnableMFA(ctx, userID, secret, hashes); err != nil {
		return nil, err
	}
	if err := e.enrollments.Delete(ctx, userID); err != nil {
		log.Printf("authgate: clear enrollment: %v", err)
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err == nil {
		e.audit(ctx, AuditMFAEnabled, userID, user.Email, "")
	}
	return codes, nil
}

func newRecoveryBatch() (codes, hashes []string, err error) {
	codes = make([]string, 0, recoveryCodeCount)
	hashes = make([]string, 0, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		code, err := recoveryCode()
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, hashToken(code))
	}
	return codes, hashes, nil
}

// RegenerateRecoveryCodes discards the remaining recovery codes and returns
// a fresh batch of ten. The caller must re-prove the password and a current
// TOTP code; recovery codes cannot authorize their own replacement.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID, plaintext, otp string) ([]string, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	ok, err := e.verifyPassword(ctx, plaintext, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	valid, counter := validateTOTP(user.MFASecret, otp, e.now(), user.MFALastCounter)
	if !valid {
		return nil, ErrInvalidOTP
	}
	if err := e.users.SetMFACounter(ctx, user.ID, counter); err != nil {
		return nil, fmt.Errorf("persist totp counter: %w", err)
	}

	codes, hashes, err := newRecoveryBatch()
	if err != nil {
		return nil, err
	}
	if err := e.users.ReplaceRecoveryCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}
	e.audit(ctx, AuditRecoveryRegenerated, userID, user.Email, "")
	return codes, nil
}

// DisableMFA turns the second factor off. The caller must re-prove the
// password and present one valid code (TOTP or recovery); all remaining
// recovery codes are invalidated.
func (e *Engine) DisableMFA(ctx context.Context, userID, plaintext, code string) error {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}

	ok, err := e.verifyPassword(ctx, plaintext, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	valid, counter := validateTOTP(user.MFASecret, code, e.now(), user.MFALastCounter)
	if valid {
		if err := e.users.SetMFACounter(ctx, user.ID, counter); err != nil {
			return fmt.Errorf("persist totp counter: %w", err)
		}
	} else {
		normalized := strings.ToLower(strings.TrimSpace(code))
		used, err := e.users.ConsumeRecoveryCode(ctx, user.ID, hashToken(normalized))
		if err != nil {
			return fmt.Errorf("consume recovery code: %w", err)
		}
		if !used {
			return ErrInvalidOTP
		}
	}

	if err := e.users.DisableMFA(ctx, userID); err != nil {
		if errors.Is(err, ErrMFANotEnabled) {
			return ErrMFANotEnabled
		}
		return fmt.Errorf("disable mfa: %w", err)
	}
	e.audit(ctx, AuditMFADisabled, userID, user.Email, "")
	return nil
}
