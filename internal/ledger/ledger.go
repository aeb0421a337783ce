// Package ledger records navigation and action events to the backend audit
// ledger. Recording is best effort: it never blocks a request and its
// failures are only logged.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/entity"
)

const (
	EventListViewed     = "list_viewed"
	EventLensOpened     = "lens_opened"
	EventActionExecuted = "action_executed"
)

// Poster delivers one event to the backend.
type Poster interface {
	LogEvent(ctx context.Context, sess auth.Session, event backend.LedgerEvent) error
}

type Event struct {
	Type       string
	EntityKind entity.Kind
	EntityID   string
	Metadata   map[string]any
}

type Options struct {
	QueueSize int
	Timeout   time.Duration
}

type queued struct {
	sess  auth.Session
	event backend.LedgerEvent
}

// Ledger is a bounded queue drained by one worker goroutine.
type Ledger struct {
	poster  Poster
	timeout time.Duration

	mu     sync.RWMutex
	queue  chan queued
	closed bool
	done   chan struct{}
}

func New(poster Poster, opts Options) *Ledger {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	l := &Ledger{
		poster:  poster,
		timeout: opts.Timeout,
		queue:   make(chan queued, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues an event. It reports false when the event was dropped
// because the session is incomplete, the queue is full or the ledger is
// closed.
func (l *Ledger) Record(sess auth.Session, event Event) bool {
	if l == nil || !sess.Valid() {
		return false
	}
	item := queued{sess: sess, event: backend.LedgerEvent{
		ScopeID:    sess.ScopeID,
		EventType:  event.Type,
		EntityType: string(event.EntityKind),
		EntityID:   event.EntityID,
		Metadata:   event.Metadata,
	}}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.queue <- item:
		return true
	default:
		slog.Warn("ledger: queue full, dropping event", "event_type", event.Type, "entity_type", event.EntityKind)
		return false
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) run() {
	defer close(l.done)
	for item := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.poster.LogEvent(ctx, item.sess, item.event); err != nil {
			slog.Warn("ledger: post failed",
				"event_type", item.event.EventType,
				"entity_type", item.event.EntityType,
				"error", err,
			)
		}
		cancel()
	}
}
