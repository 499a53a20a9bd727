package authgate

import (
	"errors"
	"fmt"
	"time"

	"authgate/password"
	"authgate/ratelimit"
)

// Config tunes the engine. Zero values are filled from defaultConfig by
// the Builder, so callers only set what they need to change.
type Config struct {
	// Token issuance.
	Issuer         string
	Audience       string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	KeyGraceWindow time.Duration

	// Ephemeral state TTLs.
	ChallengeTTL    time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	ResendCooldown  time.Duration
	EnrollmentTTL   time.Duration

	// Failure policies per limiter scope.
	IPPolicy        ratelimit.Policy
	AccountPolicy   ratelimit.Policy
	ChallengePolicy ratelimit.Policy

	// Password hashing.
	Password password.Config
	// HashWorkers bounds concurrent argon2 computations.
	HashWorkers int
	// UpgradeHashOnLogin rehashes passwords whose stored parameters are
	// weaker than the configured ones.
	UpgradeHashOnLogin bool

	// DefaultRole is assigned to newly registered users.
	DefaultRole string
	// TOTPIssuer is the issuer label embedded in otpauth:// URLs.
	TOTPIssuer string

	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string
	// AuditBuffer is the audit dispatcher's channel capacity.
	AuditBuffer int
}

func defaultConfig() Config {
	return Config{
		Issuer:         "authgate",
		Audience:       "authgate-api",
		AccessTTL:      7 * time.Minute,
		RefreshTTL:     30 * 24 * time.Hour,
		KeyGraceWindow: 24 * time.Hour,

		ChallengeTTL:    5 * time.Minute,
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        time.Hour,
		ResendCooldown:  time.Minute,
		EnrollmentTTL:   10 * time.Minute,

		IPPolicy: ratelimit.Policy{
			CaptchaAfter: 3,
			LockAfter:    30,
			Window:       15 * time.Minute,
			LockFor:      15 * time.Minute,
		},
		AccountPolicy: ratelimit.Policy{
			CaptchaAfter: 3,
			LockAfter:    5,
			Window:       15 * time.Minute,
			LockFor:      5 * time.Minute,
		},
		ChallengePolicy: ratelimit.Policy{
			LockAfter: 10,
			Window:    5 * time.Minute,
			LockFor:   5 * time.Minute,
		},

		Password: password.Config{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		HashWorkers:        4,
		UpgradeHashOnLogin: true,

		DefaultRole: "member",
		TOTPIssuer:  "authgate",

		KeyPrefix:   "ag:",
		AuditBuffer: 256,
	}
}

// withDefaults fills zero fields from defaultConfig.
func (c Config) withDefaults() Config {
	d := defaultConfig()
	if c.Issuer == "" {
		c.Issuer = d.Issuer
	}
	if c.Audience == "" {
		c.Audience = d.Audience
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = d.AccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = d.RefreshTTL
	}
	if c.KeyGraceWindow == 0 {
		c.KeyGraceWindow = d.KeyGraceWindow
	}
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = d.ChallengeTTL
	}
	if c.VerificationTTL == 0 {
		c.VerificationTTL = d.VerificationTTL
	}
	if c.ResetTTL == 0 {
		c.ResetTTL = d.ResetTTL
	}
	if c.ResendCooldown == 0 {
		c.ResendCooldown = d.ResendCooldown
	}
	if c.EnrollmentTTL == 0 {
		c.EnrollmentTTL = d.EnrollmentTTL
	}
	if c.IPPolicy == (ratelimit.Policy{}) {
		c.IPPolicy = d.IPPolicy
	}
	if c.AccountPolicy == (ratelimit.Policy{}) {
		c.AccountPolicy = d.AccountPolicy
	}
	if c.ChallengePolicy == (ratelimit.Policy{}) {
		c.ChallengePolicy = d.ChallengePolicy
	}
	if c.Password == (password.Config{}) {
		c.Password = d.Password
	}
	if c.HashWorkers == 0 {
		c.HashWorkers = d.HashWorkers
	}
	if c.DefaultRole == "" {
		c.DefaultRole = d.DefaultRole
	}
	if c.TOTPIssuer == "" {
		c.TOTPIssuer = d.TOTPIssuer
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.AuditBuffer == 0 {
		c.AuditBuffer = d.AuditBuffer
	}
	return c
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.AccessTTL < time.Minute || c.AccessTTL > time.Hour {
		return errors.New("AccessTTL must be between 1m and 1h")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("RefreshTTL must exceed AccessTTL")
	}
	if c.KeyGraceWindow < c.AccessTTL {
		return errors.New("KeyGraceWindow must cover at least one access token lifetime")
	}
	if c.ChallengeTTL < 30*time.Second || c.ChallengeTTL > 30*time.Minute {
		return errors.New("ChallengeTTL must be between 30s and 30m")
	}
	if c.VerificationTTL < time.Hour {
		return errors.New("VerificationTTL must be at least 1h")
	}
	if c.ResetTTL < time.Minute {
		return errors.New("ResetTTL must be at least 1m")
	}
	if c.HashWorkers < 1 || c.HashWorkers > 128 {
		return errors.New("HashWorkers must be between 1 and 128")
	}
	if c.AuditBuffer < 1 {
		return errors.New("AuditBuffer must be at least 1")
	}
	for name, ttl := range map[string]time.Duration{
		"ResendCooldown": c.ResendCooldown,
		"EnrollmentTTL":  c.EnrollmentTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	return nil
}
