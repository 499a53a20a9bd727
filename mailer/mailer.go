// Package mailer hands transactional mail off to an external delivery
// worker. The service never sends SMTP itself; it enqueues fully resolved
// jobs and a separate consumer renders and delivers them.
package mailer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Template identifiers understood by the delivery worker.
const (
	TemplateVerifyEmail     = "verify_email"
	TemplatePasswordReset   = "password_reset"
	TemplatePasswordChanged = "password_changed"
)

// Enqueuer accepts a mail job for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, template, recipient string, vars map[string]string) error
}

type job struct {
	Template   string            `json:"template"`
	Recipient  string            `json:"recipient"`
	Vars       map[string]string `json:"vars,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// RedisQueue pushes jobs onto a Redis list consumed with BRPOP by the
// delivery worker.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
}

// NewRedisQueue returns a queue writing to key.
func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = "ag:mail"
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, template, recipient string, vars map[string]string) error {
	payload, err := json.Marshal(job{
		Template:   template,
		Recipient:  recipient,
		Vars:       vars,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Discard drops every job, for deployments that handle notifications
// through another channel.
type Discard struct{}

func (Discard) Enqueue(context.Context, string, string, map[string]string) error {
	return nil
}

// Capture records enqueued jobs in memory for tests.
type Capture struct {
	Jobs []CapturedJob
}

// CapturedJob is one recorded Enqueue call.
type CapturedJob struct {
	Template  string
	Recipient string
	Vars      map[string]string
}

func (c *Capture) Enqueue(_ context.Context, template, recipient string, vars map[string]string) error {
	c.Jobs = append(c.Jobs, CapturedJob{Template: template, Recipient: recipient, Vars: vars})
	return nil
}

// Last returns the most recent job, or a zero job when none were sent.
func (c *Capture) Last() CapturedJob {
	if len(c.Jobs) == 0 {
		return CapturedJob{}
	}
	return c.Jobs[len(c.Jobs)-1]
}
