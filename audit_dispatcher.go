package authgate

import (
	"sync"
	"sync/atomic"
)

// auditDispatcher fans events out to the configured sinks from a single
// goroutine. The buffer is bounded; when it is full the event is dropped
// and counted rather than stalling an authentication request.
type auditDispatcher struct {
	events  chan AuditEvent
	sinks   []AuditSink
	dropped atomic.Uint64
	metrics *Metrics

	closeOnce sync.Once
	done      chan struct{}
}

func newAuditDispatcher(buffer int, sinks []AuditSink, metrics *Metrics) *auditDispatcher {
	d := &auditDispatcher{
		events:  make(chan AuditEvent, buffer),
		sinks:   sinks,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		for _, sink := range d.sinks {
			sink.Write(event)
		}
	}
}

// Emit queues an event without blocking.
func (d *auditDispatcher) Emit(event AuditEvent) {
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.inc(MetricAuditDropped)
		}
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (d *auditDispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close drains queued events and stops the dispatcher. Emit after Close
// panics; the engine only closes on shutdown.
func (d *auditDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.events)
		<-d.done
	})
}
