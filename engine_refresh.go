package authgate

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"

	"authgate/jwt"
	"authgate/session"
)

// Refresh redeems a refresh token for a new access/refresh pair and
// rotates the session. A refresh token is redeemable exactly once: the
// rotation is a compare-and-swap on the stored token hash, and presenting
// an already-rotated token revokes the whole session before the generic
// error goes back to the client.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.tokens.Verify(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	sess, err := retryRead(ctx, func(ctx context.Context) (*session.Session, error) {
		return e.sessions.Get(ctx, claims.SID)
	})
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	user, err := retryRead(ctx, func(ctx context.Context) (*UserRecord, error) {
		return e.users.GetUserByID(ctx, claims.Subject)
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if user.Status != StatusActive {
		_ = e.sessions.Delete(ctx, sess)
		return nil, ErrTokenInvalid
	}

	newRefresh, err := e.tokens.IssueRefresh(user.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	newAccess, err := e.tokens.IssueAccess(user.ID, sess.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	oldHash := sha256.Sum256([]byte(refreshToken))
	newHash := sha256.Sum256([]byte(newRefresh))

	// The session keeps its absolute expiry; rotation does not extend the
	// lineage's lifetime.
	err = e.sessions.Rotate(ctx, sess.ID, oldHash, newHash, e.now().UTC(), sess.ExpiresAt)
	switch {
	case errors.Is(err, session.ErrRefreshReplayed):
		e.metrics.inc(MetricRefreshReplay)
		e.audit(ctx, AuditReplayDetected, user.ID, user.Email, "session revoked")
		return nil, ErrTokenInvalid
	case errors.Is(err, session.ErrNotFound):
		return nil, ErrTokenInvalid
	case err != nil:
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	e.metrics.inc(MetricRefreshSuccess)
	e.audit(ctx, AuditRefresh, user.ID, user.Email, "")
	return &TokenPair{
		AccessToken:  newAccess,
		RefreshToken: newRefresh,
		ExpiresIn:    int(e.cfg.AccessTTL.Seconds()),
	}, nil
}

// Logout revokes the session the refresh token belongs to. It is
// idempotent: unknown, expired, and already-revoked tokens all succeed.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	claims, err := e.tokens.Verify(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return nil
	}
	if err := e.sessions.DeleteByID(ctx, claims.SID); err != nil {
		log.Printf("authgate: logout delete session: %v", err)
		return nil
	}
	e.metrics.inc(MetricLogout)
	e.audit(ctx, AuditLogout, claims.Subject, "", "")
	return nil
}
