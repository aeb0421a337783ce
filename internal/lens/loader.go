package lens

import (
	"context"
	"sync"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
)

// Fetcher loads one typed detail.
type Fetcher interface {
	Detail(ctx context.Context, sess auth.Session, kind entity.Kind, id string) (entity.Detail, error)
}

// Result is the accepted outcome for the current selection.
type Result struct {
	ID         string        `json:"id"`
	Loading    bool          `json:"loading"`
	Detail     entity.Detail `json:"-"`
	Err        error         `json:"-"`
	Generation uint64        `json:"generation"`
}

// Loader keeps the lens for the selected id. Each Select or Reload bumps a
// generation; a response is accepted only while its generation is current
// and its id is still selected, so a slow answer for an earlier selection is
// dropped silently.
type Loader struct {
	fetch    Fetcher
	sess     auth.Session
	kind     entity.Kind
	onChange func(Result)

	mu       sync.Mutex
	selected string
	gen      uint64
	result   Result
	cancel   context.CancelFunc
	closed   bool
}

func NewLoader(fetch Fetcher, sess auth.Session, kind entity.Kind, onChange func(Result)) *Loader {
	return &Loader{fetch: fetch, sess: sess, kind: kind, onChange: onChange}
}

// Select makes id the selection and issues its fetch. An empty id clears it.
// The fetch for the previous selection is cancelled.
func (l *Loader) Select(id string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.cancelLocked()
	l.selected = id
	l.gen++
	gen := l.gen
	l.result = Result{ID: id, Loading: id != "", Generation: gen}
	snap := l.result
	var ctx context.Context
	if id != "" {
		ctx, l.cancel = context.WithCancel(context.Background())
	}
	l.mu.Unlock()

	l.notify(snap)
	if id != "" {
		go l.run(ctx, gen, id)
	}
}

// Reload re-issues the fetch for the current selection.
func (l *Loader) Reload() {
	l.mu.Lock()
	id := l.selected
	l.mu.Unlock()
	if id != "" {
		l.Select(id)
	}
}

func (l *Loader) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

func (l *Loader) Result() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// Close abandons any in-flight fetch.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	l.cancelLocked()
	l.mu.Unlock()
}

func (l *Loader) cancelLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *Loader) run(ctx context.Context, gen uint64, id string) {
	detail, err := l.fetch.Detail(ctx, l.sess, l.kind, id)

	l.mu.Lock()
	if l.closed || gen != l.gen || id != l.selected {
		l.mu.Unlock()
		return
	}
	l.result = Result{ID: id, Detail: detail, Err: err, Generation: gen}
	snap := l.result
	l.mu.Unlock()

	l.notify(snap)
}

func (l *Loader) notify(r Result) {
	if l.onChange != nil {
		l.onChange(r)
	}
}
