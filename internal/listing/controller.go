// Package listing drives one entity list: debounced filter input, the
// recent-versus-search source switch, stale-result suppression and grouping.
package listing

import (
	"context"
	"strings"
	"sync"
	"time"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/catalog"
	"pmslens/api/internal/entity"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateErrored State = "errored"
)

// Source names where the visible items came from.
type Source string

const (
	SourceRecent Source = "recent"
	SourceSearch Source = "search"
)

const DefaultDebounce = 300 * time.Millisecond

// Lister is the cached list read path.
type Lister interface {
	List(ctx context.Context, sess auth.Session, kind entity.Kind, q catalog.Query) ([]entity.Summary, error)
}

// Snapshot is a copy of the controller state safe to hand to a renderer.
type Snapshot struct {
	Kind       entity.Kind      `json:"kind"`
	State      State            `json:"state"`
	Filter     string           `json:"filter"`
	Status     string           `json:"status,omitempty"`
	Source     Source           `json:"source"`
	Items      []entity.Summary `json:"items"`
	Error      *ErrorState      `json:"error,omitempty"`
	Generation uint64           `json:"generation"`
	LoadedAt   time.Time        `json:"loaded_at,omitempty"`
}

type Options struct {
	Debounce time.Duration
	Status   string
	Limit    int
	// OnChange is called after every state transition, outside the lock.
	OnChange func(Snapshot)
}

// Controller is the list state machine Idle -> Loading -> Ready | Errored.
// Every filter change bumps the generation; a result carrying an older
// generation is dropped.
type Controller struct {
	lister   Lister
	sess     auth.Session
	kind     entity.Kind
	debounce time.Duration
	limit    int
	onChange func(Snapshot)

	mu      sync.Mutex
	state   State
	filter  string
	status  string
	applied catalog.Query
	items   []entity.Summary
	err     *ErrorState
	gen     uint64
	loaded  time.Time
	timer   *time.Timer
	cancel  context.CancelFunc
	closed  bool
}

func NewController(lister Lister, sess auth.Session, kind entity.Kind, opts Options) *Controller {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Controller{
		lister:   lister,
		sess:     sess,
		kind:     kind,
		debounce: debounce,
		limit:    opts.Limit,
		onChange: opts.OnChange,
		state:    StateIdle,
		status:   opts.Status,
	}
}

// Load fetches immediately with the current filter. It is the entry point
// for the initial render.
func (c *Controller) Load() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	q := c.queryLocked()
	c.mu.Unlock()

	c.fetch(gen, q)
}

// SetFilter records new filter text and schedules a fetch after the debounce
// interval. A pending timer for older text is stopped.
func (c *Controller) SetFilter(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.filter = text
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		q := c.queryLocked()
		c.mu.Unlock()
		c.fetch(gen, q)
	})
	c.mu.Unlock()
}

// SetStatus changes the status filter and reloads at once.
func (c *Controller) SetStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.Load()
}

// Retry re-issues the last query. It only acts from Errored. Filter text
// still waiting on the debounce is fetched now instead.
func (c *Controller) Retry() bool {
	c.mu.Lock()
	if c.closed || c.state != StateErrored {
		c.mu.Unlock()
		return false
	}
	q := c.applied
	if c.timer != nil {
		c.stopTimerLocked()
		q = c.queryLocked()
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.fetch(gen, q)
	return true
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close stops the debounce timer and abandons any in-flight fetch.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) fetch(gen uint64, q catalog.Query) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.applied = q
	c.state = StateLoading
	c.err = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	go func() {
		items, err := c.lister.List(ctx, c.sess, c.kind, q)

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		cancel()
		c.cancel = nil
		if err != nil {
			c.state = StateErrored
			state := Status(err)
			c.err = &state
		} else {
			c.state = StateReady
			c.items = items
			c.loaded = time.Now()
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
	}()
}

func (c *Controller) queryLocked() catalog.Query {
	return catalog.Query{Text: strings.TrimSpace(c.filter), Status: c.status, Limit: c.limit}
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	source := SourceRecent
	if c.applied.Searching() {
		source = SourceSearch
	}
	items := make([]entity.Summary, len(c.items))
	copy(items, c.items)
	return Snapshot{
		Kind:       c.kind,
		State:      c.state,
		Filter:     c.filter,
		Status:     c.status,
		Source:     source,
		Items:      items,
		Error:      c.err,
		Generation: c.gen,
		LoadedAt:   c.loaded,
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

// ErrorState is the list-region rendering of a failed fetch.
type ErrorState struct {
	Class     backend.Class `json:"class"`
	Status    int           `json:"status,omitempty"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
}

// Status maps a fetch error to the state the list region shows.
func Status(err error) ErrorState {
	class := backend.Classify(err)
	state := ErrorState{Class: class, Status: backend.StatusOf(err)}
	switch class {
	case backend.ClassUnauthenticated:
		state.Message = "Please sign in to continue."
	case backend.ClassNotFound:
		state.Message = "These records could not be found."
	case backend.ClassForbidden:
		state.Message = "You do not have permission to view these records."
	default:
		state.Message = "Records could not be loaded."
		state.Retryable = true
	}
	return state
}
