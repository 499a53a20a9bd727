package authgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"authgate/captcha"
	"authgate/jwt"
	"authgate/mailer"
	"authgate/password"
	"authgate/ratelimit"
	"authgate/session"
)

// Builder assembles an Engine. Redis and a CredentialStore are mandatory;
// everything else has a safe default: config from defaultConfig, a fresh
// keyring, a fail-closed CAPTCHA verifier, discarded mail, and a no-op
// audit sink.
type Builder struct {
	cfg        Config
	client     redis.UniversalClient
	users      CredentialStore
	captcha    captcha.Verifier
	mailer     mailer.Enqueuer
	keyring    *jwt.Keyring
	sinks      []AuditSink
	grants     grantTable
	hasGrants  bool
	buildError error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{grants: grantTable{}}
}

// WithConfig replaces the default configuration. Zero fields are still
// filled with defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithRedis sets the shared Redis client used for sessions, counters, and
// ephemeral tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.client = client
	return b
}

// WithCredentialStore sets the user persistence backend.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.users = store
	return b
}

// WithCaptcha sets the CAPTCHA verification collaborator.
func (b *Builder) WithCaptcha(v captcha.Verifier) *Builder {
	b.captcha = v
	return b
}

// WithMailer sets the mail enqueue collaborator.
func (b *Builder) WithMailer(m mailer.Enqueuer) *Builder {
	b.mailer = m
	return b
}

// WithKeyring injects externally managed signing keys, e.g. loaded from a
// secrets manager so restarts do not invalidate tokens.
func (b *Builder) WithKeyring(k *jwt.Keyring) *Builder {
	b.keyring = k
	return b
}

// WithAuditSink adds a sink receiving audit events. May be called multiple
// times.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	if sink != nil {
		b.sinks = append(b.sinks, sink)
	}
	return b
}

// WithGrants registers the capabilities granted to role. Calling it at
// least once replaces the default grant table entirely.
func (b *Builder) WithGrants(role string, caps ...Capability) *Builder {
	b.hasGrants = true
	set, ok := b.grants[role]
	if !ok {
		set = capabilitySet{}
		b.grants[role] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return b
}

func defaultGrants(defaultRole string) grantTable {
	self := capabilitySet{
		CapSelfRead:       {},
		CapSelfManageMFA:  {},
		CapSelfChangePass: {},
	}
	admin := capabilitySet{
		CapSelfRead:       {},
		CapSelfManageMFA:  {},
		CapSelfChangePass: {},
		CapAdminSessions:  {},
		CapAdminAccounts:  {},
	}
	return grantTable{defaultRole: self, "admin": admin}
}

// Build validates the configuration and returns a running Engine. The
// Engine owns an audit dispatcher goroutine; call Close on shutdown.
func (b *Builder) Build() (*Engine, error) {
	if b.buildError != nil {
		return nil, b.buildError
	}
	if b.client == nil {
		return nil, errors.New("authgate: Redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("authgate: credential store is required")
	}

	cfg := b.cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("authgate: config: %w", err)
	}

	keyring := b.keyring
	if keyring == nil {
		var err error
		keyring, err = jwt.NewKeyring(cfg.KeyGraceWindow)
		if err != nil {
			return nil, fmt.Errorf("authgate: keyring: %w", err)
		}
	}

	tokens, err := jwt.NewManager(jwt.Config{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Leeway:     30 * time.Second,
	}, keyring)
	if err != nil {
		return nil, fmt.Errorf("authgate: token manager: %w", err)
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("authgate: password hasher: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(b.client, cfg.KeyPrefix+"rl:", map[ratelimit.Scope]ratelimit.Policy{
		ratelimit.ScopeIP:        cfg.IPPolicy,
		ratelimit.ScopeAccount:   cfg.AccountPolicy,
		ratelimit.ScopeChallenge: cfg.ChallengePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("authgate: limiter: %w", err)
	}

	verifier := b.captcha
	if verifier == nil {
		// Fail closed: an unconfigured verifier rejects every solution.
		verifier = captcha.Fail
	}
	enqueuer := b.mailer
	if enqueuer == nil {
		enqueuer = mailer.Discard{}
	}

	grants := b.grants
	if !b.hasGrants {
		grants = defaultGrants(cfg.DefaultRole)
	}

	sinks := b.sinks
	if len(sinks) == 0 {
		sinks = []AuditSink{NoopSink{}}
	}

	decoySecret, err := randomToken(18)
	if err != nil {
		return nil, fmt.Errorf("authgate: decoy secret: %w", err)
	}
	decoyHash, err := hasher.Hash(decoySecret)
	if err != nil {
		return nil, fmt.Errorf("authgate: decoy hash: %w", err)
	}

	metrics := newMetrics()

	e := &Engine{
		cfg:      cfg,
		users:    b.users,
		sessions: session.NewStore(b.client, cfg.KeyPrefix+"sess:"),
		tokens:   tokens,
		keyring:  keyring,
		hasher:   hasher,
		limiter:  limiter,
		captcha:  verifier,
		mailer:   enqueuer,

		challenges:    newLoginChallengeStore(b.client, cfg.KeyPrefix, cfg.ChallengeTTL),
		verifications: newVerificationStore(b.client, cfg.KeyPrefix, cfg.VerificationTTL, cfg.ResendCooldown),
		resets:        newResetStore(b.client, cfg.KeyPrefix, cfg.ResetTTL),
		enrollments:   newEnrollmentStore(b.client, cfg.KeyPrefix, cfg.EnrollmentTTL),

		metrics:   metrics,
		grants:    grants,
		hashSem:   make(chan struct{}, cfg.HashWorkers),
		decoyHash: decoyHash,
		now:       time.Now,
	}
	e.dispatcher = newAuditDispatcher(cfg.AuditBuffer, sinks, metrics)
	return e, nil
}
