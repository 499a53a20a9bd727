// Package jwt issues and verifies the signed access and refresh tokens and
// owns signing-key rotation via a fixed three-slot Keyring.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values. Verify rejects tokens whose typ claim does not
// match the expected kind, so an access token can never be redeemed as a
// refresh token or vice versa.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrTokenExpired is returned for structurally valid tokens past exp.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignature is returned when the signature does not verify.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenWrongType is returned when the typ claim does not match.
	ErrTokenWrongType = errors.New("token type mismatch")
	// ErrTokenUnknownKey is returned when the kid header resolves to no
	// keyring slot; callers must treat this as a forced re-login.
	ErrTokenUnknownKey = errors.New("token signed by unknown key")
	// ErrTokenMalformed is returned for tokens that fail to parse at all.
	ErrTokenMalformed = errors.New("token malformed")
)

// Config holds token issuance parameters.
type Config struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Claims is the claim set carried by both token kinds. SID binds the token
// to a session lineage; Role is the small role claim surfaced to services
// consuming the access token.
type Claims struct {
	SID  string `json:"sid"`
	Type string `json:"typ"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens against a Keyring.
type Manager struct {
	config  Config
	keyring *Keyring
}

// NewManager validates cfg and returns a Manager bound to keyring.
func NewManager(cfg Config, keyring *Keyring) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be > 0")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if keyring == nil {
		return nil, errors.New("keyring required")
	}
	return &Manager{config: cfg, keyring: keyring}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs an access token for userID bound to sessionID.
func (m *Manager) IssueAccess(userID, sessionID, role string) (string, error) {
	return m.issue(userID, sessionID, role, TypeAccess, m.config.AccessTTL)
}

// IssueRefresh signs a refresh token for userID bound to sessionID. The
// refresh token carries no role claim; roles are re-read on redemption.
func (m *Manager) IssueRefresh(userID, sessionID string) (string, error) {
	return m.issue(userID, sessionID, "", TypeRefresh, m.config.RefreshTTL)
}

func (m *Manager) issue(userID, sessionID, role, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		SID:  sessionID,
		Type: typ,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	key := m.keyring.SigningKey()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = key.ID

	return token.SignedString(key.Private)
}

// Verify parses and verifies tokenStr, requiring the typ claim to equal
// expectedType. Failure modes are collapsed into the package sentinels so
// callers branch with errors.Is rather than inspecting library errors.
func (m *Manager) Verify(tokenStr, expectedType string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrTokenUnknownKey
		}
		pub, ok := m.keyring.VerificationKey(kid)
		if !ok {
			return nil, ErrTokenUnknownKey
		}
		return pub, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenUnknownKey):
			return nil, ErrTokenUnknownKey
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, ErrTokenSignature
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenSignature
	}
	if claims.Type != expectedType {
		return nil, ErrTokenWrongType
	}
	if claims.Subject == "" || claims.SID == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
