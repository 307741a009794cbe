// Package feed consumes attendance events and keeps daily tallies.
package feed

import (
	"context"
	"fmt"
	"log"
	"sync"

	"presensi/internal/attendance"
	"presensi/internal/metrics"
	"presensi/internal/queue"
)

// Counter increments a per-day, per-course, per-action counter.
type Counter interface {
	Incr(ctx context.Context, date, courseID, action string) (int64, error)
}

// LocalCounter keeps tallies in process memory. It backs the feed when
// events travel over the in-memory queue.
type LocalCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// Incr implements Counter.
func (l *LocalCounter) Incr(_ context.Context, date, courseID, action string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = make(map[string]int64)
	}
	k := date + "|" + courseID + "|" + action
	l.counts[k]++
	return l.counts[k], nil
}

// Count returns the current tally.
func (l *LocalCounter) Count(date, courseID, action string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[date+"|"+courseID+"|"+action]
}

// Processor applies attendance events to a Counter.
type Processor struct {
	counter Counter
}

// NewProcessor creates a processor.
func NewProcessor(counter Counter) *Processor {
	return &Processor{counter: counter}
}

// Handle applies one message. Messages of other types are ignored.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != attendance.EventRecorded {
		return nil
	}
	evt, err := attendance.DecodeEvent(msg)
	if err != nil {
		metrics.EventsProcessed.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("decode event: %w", err)
	}
	n, err := p.counter.Incr(ctx, evt.Date, evt.CourseID, string(evt.Action))
	if err != nil {
		metrics.EventsProcessed.WithLabelValues(string(evt.Action), "failed").Inc()
		return fmt.Errorf("tally %s: %w", evt.RecordID, err)
	}
	metrics.EventsProcessed.WithLabelValues(string(evt.Action), "ok").Inc()
	log.Printf("event %s: %s %s on %s (%d today)", evt.RecordID, evt.Action, evt.CourseID, evt.Date, n)
	return nil
}

// Run consumes q until ctx is cancelled or the queue closes.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	for msg := range messages {
		if err := p.Handle(ctx, msg); err != nil {
			log.Printf("feed: %v", err)
		}
	}
	return nil
}
