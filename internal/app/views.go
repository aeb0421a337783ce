package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pmslens/api/internal/actions"
	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/lens"
	"pmslens/api/internal/listing"
	"pmslens/api/internal/routing"
	"pmslens/api/internal/util"
)

// Intent is a named message from a browser tab to its view. Controls emit
// intents; the view owns all mutable state.
type Intent struct {
	Intent  string         `json:"intent"`
	Text    string         `json:"text,omitempty"`
	ID      string         `json:"id,omitempty"`
	Status  string         `json:"status,omitempty"`
	Action  string         `json:"action,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

const (
	IntentFilter   = "filter"
	IntentSelect   = "select"
	IntentStatus   = "status"
	IntentRetry    = "retry"
	IntentDispatch = "dispatch"
)

// ViewSnapshot is what a tab renders after each intent or poll.
type ViewSnapshot struct {
	ID        string            `json:"id"`
	Kind      entity.Kind       `json:"kind"`
	Address   string            `json:"address"`
	Selection routing.Selection `json:"selection"`
	List      listing.Snapshot  `json:"list"`
	Groups    []listing.Group   `json:"groups"`
	Lens      *LensView         `json:"lens,omitempty"`
	Result    *actions.Result   `json:"result,omitempty"`
}

// View is one long-lived tab: a list controller and a lens loader sharing a
// selection that is always re-encodable as an address.
type View struct {
	id     string
	svc    *Service
	sess   auth.Session
	kind   entity.Kind
	list   *listing.Controller
	loader *lens.Loader

	mu       sync.Mutex
	sel      routing.Selection
	lastSeen time.Time
}

func (v *View) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

func (v *View) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

func (v *View) close() {
	v.list.Close()
	v.loader.Close()
}

// Apply handles one intent. Dispatch results are returned so the caller can
// show them inline.
func (v *View) Apply(ctx context.Context, in Intent) (*actions.Result, error) {
	switch in.Intent {
	case IntentFilter:
		v.mu.Lock()
		v.sel.Filter = in.Text
		v.mu.Unlock()
		v.list.SetFilter(in.Text)
	case IntentSelect:
		v.mu.Lock()
		v.sel.ID = in.ID
		v.mu.Unlock()
		v.loader.Select(in.ID)
	case IntentStatus:
		v.list.SetStatus(in.Status)
	case IntentRetry:
		if !v.list.Retry() {
			if r := v.loader.Result(); r.Err != nil {
				v.loader.Reload()
			}
		}
	case IntentDispatch:
		id := v.loader.Selected()
		if id == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "NO_SELECTION", "Select a record before dispatching an action", nil)
		}
		result := v.svc.Dispatch(ctx, v.sess, v.kind, id, in.Action, in.Payload)
		if result.Success {
			v.loader.Reload()
			v.list.Load()
		}
		return &result, nil
	default:
		return nil, domainError(http.StatusBadRequest, "UNKNOWN_INTENT", fmt.Sprintf("Unknown intent %q", in.Intent), nil)
	}
	return nil, nil
}

// Snapshot renders the current list and lens.
func (v *View) Snapshot(ctx context.Context) ViewSnapshot {
	v.mu.Lock()
	sel := v.sel
	v.mu.Unlock()

	list := v.list.Snapshot()
	snap := ViewSnapshot{
		ID:        v.id,
		Kind:      v.kind,
		Address:   routing.Encode(sel, v.svc.flags),
		Selection: sel,
		List:      list,
		Groups:    listing.DefaultGrouping(v.kind).Apply(v.svc.now(), v.kind, list.Items),
	}

	result := v.loader.Result()
	switch {
	case result.ID == "":
	case result.Loading:
		snap.Lens = &LensView{Lens: lens.Loading(sel, v.svc.flags)}
	case result.Err != nil:
		snap.Lens = &LensView{Lens: lens.Failure(sel, result.Err, v.svc.flags)}
	default:
		snap.Lens = &LensView{Lens: v.svc.render(ctx, v.sess, result.Detail, sel.Filter)}
	}
	return snap
}

// MaxViewsPerPrincipal bounds the live views one bearer may hold. Opening
// another closes that bearer's least recently used view.
const MaxViewsPerPrincipal = 16

// ViewRegistry owns live views and expires the idle ones.
type ViewRegistry struct {
	svc      *Service
	ttl      time.Duration
	maxViews int

	mu    sync.Mutex
	views map[string]*View
	done  chan struct{}
	once  sync.Once
}

func NewViewRegistry(svc *Service, ttl time.Duration) *ViewRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	r := &ViewRegistry{svc: svc, ttl: ttl, maxViews: MaxViewsPerPrincipal, views: map[string]*View{}, done: make(chan struct{})}
	go r.janitor()
	return r
}

// Create opens a view on address, restoring any selection it encodes. Only
// complete sessions may hold views.
func (r *ViewRegistry) Create(sess auth.Session, address string) (*View, error) {
	if !sess.Valid() {
		return nil, errNoSession
	}
	sel, ok := routing.Decode(address)
	if !ok {
		return nil, errUnknownResource
	}

	v := &View{
		id:       util.NewID("view"),
		svc:      r.svc,
		sess:     sess,
		kind:     sel.Kind,
		sel:      sel,
		lastSeen: r.svc.now(),
	}
	v.list = listing.NewController(r.svc.catalog, sess, sel.Kind, listing.Options{
		Debounce: r.svc.cfg.Views.Debounce,
		Limit:    r.svc.cfg.Search.Limit,
	})
	v.loader = lens.NewLoader(r.svc.catalog, sess, sel.Kind, nil)

	r.mu.Lock()
	evicted := r.evictLocked(sess)
	r.views[v.id] = v
	r.mu.Unlock()
	if evicted != nil {
		evicted.close()
	}

	if sel.Filter != "" {
		v.list.SetFilter(sel.Filter)
	} else {
		v.list.Load()
	}
	if sel.ID != "" {
		v.loader.Select(sel.ID)
	}
	return v, nil
}

// evictLocked removes the least recently used view of sess's bearer when it
// is at the limit.
func (r *ViewRegistry) evictLocked(sess auth.Session) *View {
	var (
		count  int
		oldest *View
	)
	for _, v := range r.views {
		if v.sess.Token != sess.Token {
			continue
		}
		count++
		if oldest == nil || v.idleSince().Before(oldest.idleSince()) {
			oldest = v
		}
	}
	if count < r.maxViews || oldest == nil {
		return nil
	}
	delete(r.views, oldest.id)
	return oldest
}

// Get returns a live view owned by the same bearer.
func (r *ViewRegistry) Get(sess auth.Session, id string) (*View, error) {
	r.mu.Lock()
	v, ok := r.views[id]
	r.mu.Unlock()
	if !ok || v.sess.Token != sess.Token || v.sess.ScopeID != sess.ScopeID {
		return nil, errUnknownView
	}
	v.touch(r.svc.now())
	return v, nil
}

// Sweep closes views idle for longer than the TTL.
func (r *ViewRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*View
	for id, v := range r.views {
		if now.Sub(v.idleSince()) > r.ttl {
			expired = append(expired, v)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, v := range expired {
		v.close()
	}
	return len(expired)
}

func (r *ViewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *ViewRegistry) Close() {
	r.once.Do(func() { close(r.done) })
	r.Sweep(time.Now().Add(100 * 365 * 24 * time.Hour))
}

func (r *ViewRegistry) janitor() {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep(r.svc.now())
		}
	}
}
