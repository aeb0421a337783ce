package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/entity"
)

var sess = auth.Session{Token: "tok", ScopeID: "Y1"}

type recordingPoster struct {
	mu     sync.Mutex
	events []backend.LedgerEvent
	err    error
	gate   chan struct{}
}

func (p *recordingPoster) LogEvent(ctx context.Context, _ auth.Session, event backend.LedgerEvent) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestRecordDeliversEvent(t *testing.T) {
	poster := &recordingPoster{}
	l := New(poster, Options{QueueSize: 4})

	require.True(t, l.Record(sess, Event{Type: EventLensOpened, EntityKind: entity.KindWorkOrder, EntityID: "wo-1"}))
	require.NoError(t, l.Close(context.Background()))

	require.Equal(t, 1, poster.count())
	got := poster.events[0]
	require.Equal(t, "Y1", got.ScopeID)
	require.Equal(t, "lens_opened", got.EventType)
	require.Equal(t, "work_order", got.EntityType)
	require.Equal(t, "wo-1", got.EntityID)
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	poster := &recordingPoster{gate: make(chan struct{})}
	l := New(poster, Options{QueueSize: 1, Timeout: time.Second})

	accepted := 0
	start := time.Now()
	for i := 0; i < 10; i++ {
		if l.Record(sess, Event{Type: EventListViewed, EntityKind: entity.KindFault}) {
			accepted++
		}
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Less(t, accepted, 10)

	close(poster.gate)
	require.NoError(t, l.Close(context.Background()))
	require.Equal(t, accepted, poster.count())
}

func TestPostFailureIsSwallowed(t *testing.T) {
	poster := &recordingPoster{err: errors.New("ledger down")}
	l := New(poster, Options{})
	require.True(t, l.Record(sess, Event{Type: EventActionExecuted}))
	require.True(t, l.Record(sess, Event{Type: EventActionExecuted}))
	require.NoError(t, l.Close(context.Background()))
	require.Equal(t, 2, poster.count())
}

func TestRecordRejectsIncompleteSessionAndClosedLedger(t *testing.T) {
	poster := &recordingPoster{}
	l := New(poster, Options{})
	require.False(t, l.Record(auth.Session{Token: "tok"}, Event{Type: EventLensOpened}))
	require.NoError(t, l.Close(context.Background()))
	require.False(t, l.Record(sess, Event{Type: EventLensOpened}))
	require.NoError(t, l.Close(context.Background()))

	var nilLedger *Ledger
	require.False(t, nilLedger.Record(sess, Event{}))
}

func TestCloseHonoursDeadline(t *testing.T) {
	poster := &recordingPoster{gate: make(chan struct{})}
	l := New(poster, Options{Timeout: time.Second})
	require.True(t, l.Record(sess, Event{Type: EventLensOpened}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Close(ctx), context.DeadlineExceeded)
	close(poster.gate)
}
