// Package ratelimit implements the adaptive failure limiter behind login,
// 2FA and reset flows. Counters and lockout markers live in Redis so every
// instance of the service sees the same state.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope selects which failure counter a check or record applies to.
type Scope string

const (
	// ScopeIP counts failures per client address, across all accounts.
	ScopeIP Scope = "ip"
	// ScopeAccount counts failures per account email, across all clients.
	ScopeAccount Scope = "acct"
	// ScopeChallenge counts wrong 2FA codes per pending challenge.
	ScopeChallenge Scope = "chal"
)

// Policy configures one scope. CaptchaAfter of zero disables the CAPTCHA
// escalation step for the scope; LockAfter must always be set.
type Policy struct {
	CaptchaAfter int
	LockAfter    int
	Window       time.Duration
	LockFor      time.Duration
}

func (p Policy) validate() error {
	if p.LockAfter <= 0 {
		return errors.New("ratelimit: LockAfter must be > 0")
	}
	if p.CaptchaAfter < 0 || (p.CaptchaAfter > 0 && p.CaptchaAfter >= p.LockAfter) {
		return errors.New("ratelimit: CaptchaAfter must be 0 or below LockAfter")
	}
	if p.Window <= 0 || p.LockFor <= 0 {
		return errors.New("ratelimit: Window and LockFor must be > 0")
	}
	return nil
}

// Decision is the limiter's verdict for one identifier.
type Decision struct {
	Allowed         bool
	RequiresCaptcha bool
	Failures        int
	LockedUntil     time.Time
}

// failScript bumps the failure counter, starts the window on the first
// failure, and plants the lock marker once the threshold is crossed.
// Returns the new counter value.
var failScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if n >= tonumber(ARGV[2]) then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
end
return n
`)

// Limiter evaluates failure policies per scope against shared Redis state.
type Limiter struct {
	client    redis.UniversalClient
	keyPrefix string
	policies  map[Scope]Policy
}

// NewLimiter validates policies and returns a limiter. Every scope that
// will be checked must have a policy.
func NewLimiter(client redis.UniversalClient, keyPrefix string, policies map[Scope]Policy) (*Limiter, error) {
	if keyPrefix == "" {
		keyPrefix = "ag:rl:"
	}
	if len(policies) == 0 {
		return nil, errors.New("ratelimit: no policies configured")
	}
	for scope, p := range policies {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("scope %q: %w", scope, err)
		}
	}
	return &Limiter{client: client, keyPrefix: keyPrefix, policies: policies}, nil
}

func (l *Limiter) counterKey(scope Scope, id string) string {
	return l.keyPrefix + string(scope) + ":" + id
}

func (l *Limiter) lockKey(scope Scope, id string) string {
	return l.keyPrefix + string(scope) + ":lock:" + id
}

func (l *Limiter) policy(scope Scope) (Policy, error) {
	p, ok := l.policies[scope]
	if !ok {
		return Policy{}, fmt.Errorf("ratelimit: no policy for scope %q", scope)
	}
	return p, nil
}

// Check reports whether an attempt for id may proceed and whether CAPTCHA
// proof is required first. It never mutates state.
func (l *Limiter) Check(ctx context.Context, scope Scope, id string) (Decision, error) {
	p, err := l.policy(scope)
	if err != nil {
		return Decision{}, err
	}

	pipe := l.client.Pipeline()
	lockTTL := pipe.PTTL(ctx, l.lockKey(scope, id))
	counter := pipe.Get(ctx, l.counterKey(scope, id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, err
	}

	if ttl, err := lockTTL.Result(); err == nil && ttl > 0 {
		return Decision{LockedUntil: time.Now().Add(ttl)}, nil
	}

	failures := 0
	if raw, err := counter.Result(); err == nil {
		failures, _ = strconv.Atoi(raw)
	}

	return Decision{
		Allowed:         true,
		RequiresCaptcha: p.CaptchaAfter > 0 && failures >= p.CaptchaAfter,
		Failures:        failures,
	}, nil
}

// RecordFailure bumps the counter for id and returns the resulting
// decision, so callers can report a lockout triggered by this very
// attempt.
func (l *Limiter) RecordFailure(ctx context.Context, scope Scope, id string) (Decision, error) {
	p, err := l.policy(scope)
	if err != nil {
		return Decision{}, err
	}

	n, err := failScript.Run(ctx, l.client,
		[]string{l.counterKey(scope, id), l.lockKey(scope, id)},
		strconv.FormatInt(p.Window.Milliseconds(), 10),
		strconv.Itoa(p.LockAfter),
		strconv.FormatInt(p.LockFor.Milliseconds(), 10),
	).Int()
	if err != nil {
		return Decision{}, err
	}

	failures := int(n)
	if failures >= p.LockAfter {
		return Decision{Failures: failures, LockedUntil: time.Now().Add(p.LockFor)}, nil
	}
	return Decision{
		Allowed:         true,
		RequiresCaptcha: p.CaptchaAfter > 0 && failures >= p.CaptchaAfter,
		Failures:        failures,
	}, nil
}

// Reset clears the counter and lock for id, typically after a successful
// authentication.
func (l *Limiter) Reset(ctx context.Context, scope Scope, id string) error {
	return l.client.Del(ctx, l.counterKey(scope, id), l.lockKey(scope, id)).Err()
}
