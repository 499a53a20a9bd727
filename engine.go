// Package authgate implements an authentication and session lifecycle
// backend: registration with email verification, login with optional TOTP
// second factor, JWT access/refresh issuance with rotation and replay
// detection, password reset, and adaptive failure limiting with CAPTCHA
// escalation and lockout.
//
// The Engine is the orchestrator. It persists credentials through a
// CredentialStore, keeps sessions, counters, and all ephemeral tokens in
// Redis so multiple instances share state, and delegates mail delivery and
// CAPTCHA checks to pluggable collaborators.
package authgate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"authgate/captcha"
	"authgate/jwt"
	"authgate/mailer"
	"authgate/password"
	"authgate/ratelimit"
	"authgate/session"
)

// Engine coordinates every authentication flow. Construct it with a
// Builder; the zero value is not usable.
type Engine struct {
	cfg Config

	users    CredentialStore
	sessions *session.Store
	tokens   *jwt.Manager
	keyring  *jwt.Keyring
	hasher   *password.Hasher
	limiter  *ratelimit.Limiter
	captcha  captcha.Verifier
	mailer   mailer.Enqueuer

	challenges    *loginChallengeStore
	verifications *verificationStore
	resets        *resetStore
	enrollments   *enrollmentStore

	metrics    *Metrics
	dispatcher *auditDispatcher
	grants     grantTable

	// hashSem bounds concurrent argon2 computations so a burst of logins
	// cannot monopolize the scheduler.
	hashSem chan struct{}
	// decoyHash is verified against when the email does not resolve, to
	// keep response timing uniform.
	decoyHash string

	now func() time.Time
}

// Metrics exposes the engine's counter set for exporters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Close stops the audit dispatcher after draining queued events.
func (e *Engine) Close() { e.dispatcher.Close() }

// RotateSigningKeys promotes the staged signing key. Tokens signed under
// the outgoing key keep verifying for the configured grace window.
func (e *Engine) RotateSigningKeys() error {
	return e.keyring.Promote()
}

// SigningKeyIDs reports the key ids in the current, next, and previous
// slots for operational introspection.
func (e *Engine) SigningKeyIDs() (current, next, previous string) {
	return e.keyring.KeyIDs()
}

// VerifyAccess validates an access token and returns the caller identity.
// Any failure surfaces as ErrTokenInvalid.
func (e *Engine) VerifyAccess(_ context.Context, accessToken string) (*Identity, error) {
	claims, err := e.tokens.Verify(accessToken, jwt.TypeAccess)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return &Identity{UserID: claims.Subject, SessionID: claims.SID, Role: claims.Role}, nil
}

// User loads the account record for userID with secret material blanked
// out, for profile-style reads.
func (e *Engine) User(ctx context.Context, userID string) (*UserRecord, error) {
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	user.MFASecret = ""
	return user, nil
}

// RevokeAllSessions signs the user out everywhere and returns how many
// sessions were revoked.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	e.audit(ctx, AuditSessionsRevoked, userID, "", fmt.Sprintf("count=%d", n))
	return n, nil
}

// hashPassword computes the argon2 hash under the worker semaphore.
func (e *Engine) hashPassword(ctx context.Context, plaintext string) (string, error) {
	select {
	case e.hashSem <- struct{}{}:
		defer func() { <-e.hashSem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return e.hasher.Hash(plaintext)
}

// verifyPassword checks plaintext against encoded under the worker
// semaphore.
func (e *Engine) verifyPassword(ctx context.Context, plaintext, encoded string) (bool, error) {
	select {
	case e.hashSem <- struct{}{}:
		defer func() { <-e.hashSem }()
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return e.hasher.Verify(plaintext, encoded)
}

// openSession creates a session for user and issues the token pair bound
// to it.
func (e *Engine) openSession(ctx context.Context, user *UserRecord) (*TokenPair, error) {
	sessionID := uuid.NewString()

	refresh, err := e.tokens.IssueRefresh(user.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	access, err := e.tokens.IssueAccess(user.ID, sessionID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	now := e.now().UTC()
	sess := &session.Session{
		ID:          sessionID,
		UserID:      user.ID,
		RefreshHash: sha256.Sum256([]byte(refresh)),
		IP:          clientIP(ctx),
		UserAgent:   userAgent(ctx),
		CreatedAt:   now,
		RotatedAt:   now,
		ExpiresAt:   now.Add(e.cfg.RefreshTTL),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(e.cfg.AccessTTL.Seconds()),
	}, nil
}

// normalizeEmail lowercases and trims an email for case-insensitive
// matching. Uniqueness is enforced on the normalized form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return len(email) <= 254 && strings.Contains(domain, ".") && !strings.ContainsAny(email, " \t\r\n")
}
