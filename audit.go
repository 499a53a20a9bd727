package authgate

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditKind classifies an audit event.
type AuditKind string

const (
	AuditLoginSuccess        AuditKind = "login.success"
	AuditLoginFailure        AuditKind = "login.failure"
	AuditLoginLocked         AuditKind = "login.locked"
	AuditChallengeIssued     AuditKind = "login.challenge_issued"
	AuditChallengeSucceeded  AuditKind = "login.challenge_succeeded"
	AuditChallengeFailed     AuditKind = "login.challenge_failed"
	AuditRegistered          AuditKind = "account.registered"
	AuditEmailVerified       AuditKind = "account.email_verified"
	AuditPasswordChanged     AuditKind = "account.password_changed"
	AuditPasswordResetIssued AuditKind = "account.reset_issued"
	AuditPasswordResetDone   AuditKind = "account.reset_completed"
	AuditMFAEnabled          AuditKind = "account.mfa_enabled"
	AuditMFADisabled         AuditKind = "account.mfa_disabled"
	AuditRecoveryRegenerated AuditKind = "account.recovery_regenerated"
	AuditRefresh             AuditKind = "session.refreshed"
	AuditReplayDetected      AuditKind = "session.replay_detected"
	AuditLogout              AuditKind = "session.logout"
	AuditSessionsRevoked     AuditKind = "session.revoked_all"
)

// AuditEvent is one structured security event. Detail carries flow-specific
// context; it never contains credentials or token material.
type AuditEvent struct {
	Time      time.Time `json:"time"`
	Kind      AuditKind `json:"kind"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// AuditSink receives dispatched events. Write runs on the dispatcher
// goroutine; slow sinks delay delivery but never block the engine itself.
type AuditSink interface {
	Write(event AuditEvent)
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Write(AuditEvent) {}

// ChannelSink hands events to a consumer goroutine. When the consumer falls
// behind the buffer, events are dropped rather than stalling the dispatcher.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink returns a sink buffering up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Write(event AuditEvent) {
	select {
	case s.events <- event:
	default:
	}
}

// Events is the consumer side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONSink writes one JSON object per line to w.
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONSink returns a sink writing newline-delimited JSON to w.
func NewJSONSink(w io.Writer) *JSONSink { return &JSONSink{w: w} }

func (s *JSONSink) Write(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	_ = enc.Encode(event)
}

// audit emits an event for the current request. Client metadata comes from
// the context helpers; emission is best effort and never fails the flow.
func (e *Engine) audit(ctx context.Context, kind AuditKind, userID, email, detail string) {
	e.dispatcher.Emit(AuditEvent{
		Time:      time.Now().UTC(),
		Kind:      kind,
		UserID:    userID,
		Email:     email,
		IP:        clientIP(ctx),
		UserAgent: userAgent(ctx),
		Detail:    detail,
	})
}
