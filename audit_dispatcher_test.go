package authgate

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Write(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) all() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	d := newAuditDispatcher(16, []AuditSink{sink}, nil)

	for i := 0; i < 5; i++ {
		d.Emit(AuditEvent{Kind: AuditLoginSuccess, UserID: string(rune('a' + i))})
	}
	d.Close()

	events := sink.all()
	if len(events) != 5 {
		t.Fatalf("delivered %d events, want 5", len(events))
	}
	for i, event := range events {
		if event.UserID != string(rune('a'+i)) {
			t.Fatalf("event %d out of order: %+v", i, event)
		}
	}
}

func TestDispatcherDropsOnFullBuffer(t *testing.T) {
	block := make(chan struct{})
	slow := sinkFunc(func(AuditEvent) { <-block })
	metrics := newMetrics()
	d := newAuditDispatcher(1, []AuditSink{slow}, metrics)

	// First event occupies the worker, second fills the buffer, the rest
	// must be dropped without blocking.
	for i := 0; i < 5; i++ {
		d.Emit(AuditEvent{Kind: AuditLoginFailure})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops on a full buffer")
	}
	if metrics.Value(MetricAuditDropped) != d.Dropped() {
		t.Fatal("drop metric out of sync")
	}

	close(block)
	d.Close()
}

type sinkFunc func(AuditEvent)

func (f sinkFunc) Write(event AuditEvent) { f(event) }

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)
	sink.Write(AuditEvent{
		Time:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:   AuditLoginSuccess,
		UserID: "u1",
		IP:     "203.0.113.9",
	})

	var decoded AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != AuditLoginSuccess || decoded.UserID != "u1" {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	mrSink := &captureSink{}
	f := newFixtureWithSink(t, mrSink)

	f.registerActive(t, "alice@example.com", "Sup3rSecret!")
	f.login(t, "alice@example.com", "Sup3rSecret!")
	f.engine.Close()

	kinds := map[AuditKind]bool{}
	for _, event := range mrSink.all() {
		kinds[event.Kind] = true
	}
	for _, want := range []AuditKind{AuditRegistered, AuditEmailVerified, AuditLoginSuccess} {
		if !kinds[want] {
			t.Fatalf("missing audit kind %q in %v", want, kinds)
		}
	}
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(2)
	for i := 0; i < 3; i++ {
		sink.Write(AuditEvent{Kind: AuditLoginSuccess})
	}
	// The third write overflows the buffer and is dropped.
	if got := len(sink.Events()); got != 2 {
		t.Fatalf("expected 2 buffered events, got %d", got)
	}
	event := <-sink.Events()
	if event.Kind != AuditLoginSuccess {
		t.Fatalf("unexpected kind %q", event.Kind)
	}
}
