package authgate

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint8

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricCaptchaRequired
	MetricChallengeIssued
	MetricChallengeSuccess
	MetricChallengeFailure
	MetricRegistration
	MetricEmailVerified
	MetricRefreshSuccess
	MetricRefreshReplay
	MetricLogout
	MetricPasswordReset
	MetricRecoveryCodeUsed
	MetricAuditDropped

	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:     "login_success",
	MetricLoginFailure:     "login_failure",
	MetricLoginLocked:      "login_locked",
	MetricCaptchaRequired:  "captcha_required",
	MetricChallengeIssued:  "challenge_issued",
	MetricChallengeSuccess: "challenge_success",
	MetricChallengeFailure: "challenge_failure",
	MetricRegistration:     "registration",
	MetricEmailVerified:    "email_verified",
	MetricRefreshSuccess:   "refresh_success",
	MetricRefreshReplay:    "refresh_replay",
	MetricLogout:           "logout",
	MetricPasswordReset:    "password_reset",
	MetricRecoveryCodeUsed: "recovery_code_used",
	MetricAuditDropped:     "audit_dropped",
}

// Name returns the stable exported name for id.
func (id MetricID) Name() string {
	if id >= metricCount {
		return "unknown"
	}
	return metricNames[id]
}

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of different metrics do not contend.
type paddedCounter struct {
	v atomic.Uint64
	_ [56]byte
}

// Metrics is the engine's in-process counter set. Increments are lock-free;
// Snapshot reads are not atomic across counters, which is fine for
// monitoring.
type Metrics struct {
	counters [metricCount]paddedCounter
}

func newMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) inc(id MetricID) {
	if id < metricCount {
		m.counters[id].v.Add(1)
	}
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if id >= metricCount {
		return 0
	}
	return m.counters[id].v.Load()
}

// Snapshot copies every counter into a name-keyed map.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	for id := MetricID(0); id < metricCount; id++ {
		out[id.Name()] = m.counters[id].v.Load()
	}
	return out
}

// MetricIDs lists every defined metric, for exporters that register one
// instrument per counter.
func MetricIDs() []MetricID {
	ids := make([]MetricID, metricCount)
	for i := range ids {
		ids[i] = MetricID(i)
	}
	return ids
}
