package authgate

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the Engine. HTTP handlers map them onto the
// response contract with errors.Is; the wording of user-facing ones is part
// of that contract.
var (
	// ErrInvalidCredentials is deliberately generic so callers cannot
	// distinguish a wrong password from an unknown email.
	ErrInvalidCredentials = errors.New("email or password is incorrect")

	// ErrAccountUnverified means the password may well have been correct
	// but the email was never verified. The message is distinct on
	// purpose; the existence of the account is already known to its
	// owner.
	ErrAccountUnverified = errors.New("account email is not verified")

	// ErrAccountSuspended covers suspended and deleted accounts.
	ErrAccountSuspended = errors.New("account is suspended")

	// ErrCaptchaRequired asks the client to solve a CAPTCHA and retry.
	ErrCaptchaRequired = errors.New("captcha verification required")

	// ErrCaptchaFailed means a CAPTCHA token was supplied but rejected.
	ErrCaptchaFailed = errors.New("captcha verification failed")

	// ErrEmailAlreadyRegistered is returned by credential stores on a
	// duplicate normalized email. The registration flow swallows it into
	// the generic success message.
	ErrEmailAlreadyRegistered = errors.New("email already registered")

	// ErrUserNotFound is an internal lookup miss, never shown to clients.
	ErrUserNotFound = errors.New("user not found")

	// ErrChallengeExpired means the 2FA challenge is gone, whether by TTL,
	// consumption, or forced expiry after too many wrong codes.
	ErrChallengeExpired = errors.New("second-factor challenge expired")

	// ErrInvalidOTP covers a wrong TOTP code or recovery code.
	ErrInvalidOTP = errors.New("invalid one-time code")

	// ErrMFAAlreadyEnabled and ErrMFANotEnabled guard the enrollment
	// endpoints.
	ErrMFAAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrMFANotEnabled     = errors.New("two-factor authentication not enabled")

	// ErrEnrollmentNotFound means enable-complete was called without a
	// pending enable-init, or the pending secret expired.
	ErrEnrollmentNotFound = errors.New("no pending two-factor enrollment")

	// ErrTokenInvalid is the blanket client-facing error for any refresh
	// or access token problem, including detected replays.
	ErrTokenInvalid = errors.New("token is invalid or expired")

	// ErrVerificationExpired covers expired, consumed, and unknown email
	// verification links alike.
	ErrVerificationExpired = errors.New("verification link is invalid or expired")

	// ErrResetTokenInvalid covers expired, consumed, and unknown password
	// reset tokens alike.
	ErrResetTokenInvalid = errors.New("reset token is invalid or expired")

	// ErrUnauthorized is returned by Authorize when the role lacks the
	// required capability.
	ErrUnauthorized = errors.New("operation not permitted")
)

// ValidationError reports malformed input. Field is the offending request
// field; the message is safe to show to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func validationErr(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// LockoutError reports a temporary account lock, carrying when the lock
// lifts so handlers can emit Retry-After.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// RetryAfter returns the remaining lock duration, floored at zero.
func (e *LockoutError) RetryAfter() time.Duration {
	d := time.Until(e.Until)
	if d < 0 {
		return 0
	}
	return d
}
