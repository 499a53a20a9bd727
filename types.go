package authgate

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	StatusPendingVerification AccountStatus = "pending_verification"
	StatusActive              AccountStatus = "active"
	StatusSuspended           AccountStatus = "suspended"
	StatusDeleted             AccountStatus = "deleted"
)

// UserRecord is the credential store's view of a user. PasswordHash is a
// PHC-encoded argon2id hash; MFASecret is the base32 TOTP secret, empty
// unless MFAEnabled. MFALastCounter is the highest TOTP time-step counter
// ever accepted, used to reject code replay within a step.
type UserRecord struct {
	ID              string
	Email           string
	PasswordHash    string
	Status          AccountStatus
	Role            string
	EmailVerifiedAt *time.Time
	MFAEnabled      bool
	MFASecret       string
	MFALastCounter  int64
	CreatedAt       time.Time
}

// CreateUserInput is the payload for CredentialStore.CreateUser.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Role         string
}

// CredentialStore persists user records, MFA material, and recovery codes.
// Implementations must return ErrEmailAlreadyRegistered on duplicate
// normalized emails and ErrUserNotFound on lookup misses. Writes that race
// with concurrent logins (password change, MFA toggles, code consumption)
// must be atomic updates, not read-modify-write.
type CredentialStore interface {
	CreateUser(ctx context.Context, in CreateUserInput) (*UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetUserByID(ctx context.Context, id string) (*UserRecord, error)

	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	// MarkEmailVerified flips the account to active. Calling it on an
	// already verified account is a no-op.
	MarkEmailVerified(ctx context.Context, userID string) error
	// SetStatus transitions the account lifecycle state. Setting
	// StatusDeleted also anonymizes the stored email; the row survives
	// for referential integrity.
	SetStatus(ctx context.Context, userID string, status AccountStatus) error

	// EnableMFA stores the TOTP secret and the hashes of the recovery
	// code batch in one transaction. Fails with ErrMFAAlreadyEnabled.
	EnableMFA(ctx context.Context, userID, secret string, recoveryHashes []string) error
	// DisableMFA clears the secret, the counter, and every recovery code.
	DisableMFA(ctx context.Context, userID string) error
	// ReplaceRecoveryCodes discards the remaining codes and stores a
	// fresh batch. Fails with ErrMFANotEnabled.
	ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string) error
	// SetMFACounter records the highest accepted TOTP counter. Stores
	// must only move the counter forward.
	SetMFACounter(ctx context.Context, userID string, counter int64) error
	// ConsumeRecoveryCode marks the matching unused code as used and
	// reports whether one matched. A code must never match twice.
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error)
}

// TokenPair is an issued access/refresh pair. ExpiresIn is the access
// token lifetime in seconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// LoginResult is the outcome of a successful first authentication step.
// When Requires2FA is set, Tokens is nil and the client must complete the
// challenge; otherwise Tokens carries the issued pair.
type LoginResult struct {
	Requires2FA bool
	ChallengeID string
	Tokens      *TokenPair
}

// Identity is the verified caller extracted from an access token.
type Identity struct {
	UserID    string
	SessionID string
	Role      string
}
