// Package catalog is the cached read path over the backend accessor. Lists,
// details and thread links are kept in a cache.Store for the staleness window
// and dropped by Invalidate after a successful mutation.
package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/search"
)

// Source is the subset of the backend accessor the catalog reads from.
type Source interface {
	ListEntities(ctx context.Context, sess auth.Session, kind entity.Kind, filters backend.Filters) ([]entity.Summary, error)
	GetEntityDetailRaw(ctx context.Context, sess auth.Session, kind entity.Kind, id string) ([]byte, error)
	ThreadLinks(ctx context.Context, sess auth.Session, threadID string) ([]backend.ThreadLink, error)
}

// Searcher answers free-text list queries.
type Searcher interface {
	Search(ctx context.Context, sess auth.Session, kind entity.Kind, text string) ([]entity.Summary, error)
	IndexSummaries(scopeID string, summaries []entity.Summary)
}

// Store is the cache the catalog writes to.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Query selects a list. Text of MinQueryLength runes or more is answered by
// the search index; anything shorter lists recent records.
type Query struct {
	Text   string
	Status string
	Limit  int
}

// Searching reports whether the query goes to the search index.
func (q Query) Searching() bool {
	return search.UseIndex(q.Text)
}

// fetchTimeout bounds a shared fetch, which outlives any single caller.
const fetchTimeout = 30 * time.Second

type Catalog struct {
	source Source
	search Searcher
	store  Store
	ttl    time.Duration
	group  singleflight.Group

	// epochs counts invalidations per scope and kind. A fetch that started
	// under an older epoch is never written to the store, and later readers
	// never join it.
	mu     sync.RWMutex
	epochs map[string]uint64
}

func New(source Source, searcher Searcher, store Store, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Catalog{source: source, search: searcher, store: store, ttl: ttl, epochs: make(map[string]uint64)}
}

// List returns the summaries for one kind in the session's scope.
func (c *Catalog) List(ctx context.Context, sess auth.Session, kind entity.Kind, q Query) ([]entity.Summary, error) {
	if !sess.Valid() {
		return nil, backend.ErrUnauthenticated
	}

	key := listKey(sess, kind, q)
	body, err := c.load(ctx, scopePrefix(sess.ScopeID, kind), key, func(ctx context.Context) ([]byte, error) {
		var (
			items []entity.Summary
			err   error
		)
		if q.Searching() && c.search != nil {
			items, err = c.search.Search(ctx, sess, kind, strings.TrimSpace(q.Text))
		} else {
			items, err = c.source.ListEntities(ctx, sess, kind, backend.Filters{Status: q.Status, Limit: q.Limit})
			if err == nil && c.search != nil {
				c.search.IndexSummaries(sess.ScopeID, items)
			}
		}
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []entity.Summary{}
		}
		return json.Marshal(items)
	})
	if err != nil {
		return nil, err
	}

	var items []entity.Summary
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("catalog: decode list: %w", err)
	}
	return items, nil
}

// Detail returns the typed detail for one record.
func (c *Catalog) Detail(ctx context.Context, sess auth.Session, kind entity.Kind, id string) (entity.Detail, error) {
	if !sess.Valid() {
		return nil, backend.ErrUnauthenticated
	}

	key := detailPrefix(sess.ScopeID, kind, id) + principal(sess)
	body, err := c.load(ctx, scopePrefix(sess.ScopeID, kind), key, func(ctx context.Context) ([]byte, error) {
		return c.source.GetEntityDetailRaw(ctx, sess, kind, id)
	})
	if err != nil {
		return nil, err
	}
	return entity.DecodeDetail(kind, body)
}

// ThreadLinks returns the links the ingestion pipeline produced for a thread.
func (c *Catalog) ThreadLinks(ctx context.Context, sess auth.Session, threadID string) ([]backend.ThreadLink, error) {
	if !sess.Valid() {
		return nil, backend.ErrUnauthenticated
	}

	key := linksPrefix(sess.ScopeID, entity.KindThread, threadID) + principal(sess)
	body, err := c.load(ctx, scopePrefix(sess.ScopeID, entity.KindThread), key, func(ctx context.Context) ([]byte, error) {
		links, err := c.source.ThreadLinks(ctx, sess, threadID)
		if err != nil {
			return nil, err
		}
		if links == nil {
			links = []backend.ThreadLink{}
		}
		return json.Marshal(links)
	})
	if err != nil {
		return nil, err
	}

	var links []backend.ThreadLink
	if err := json.Unmarshal(body, &links); err != nil {
		return nil, fmt.Errorf("catalog: decode links: %w", err)
	}
	return links, nil
}

// Invalidate drops the cached detail and links for one record and every
// cached list of its kind. Fetches already in flight for that scope and kind
// are not cached when they land.
func (c *Catalog) Invalidate(ctx context.Context, scopeID string, kind entity.Kind, id string) error {
	c.mu.Lock()
	c.epochs[scopePrefix(scopeID, kind)]++
	c.mu.Unlock()

	prefixes := []string{listPrefix(scopeID, kind)}
	if id != "" {
		prefixes = append(prefixes, detailPrefix(scopeID, kind, id), linksPrefix(scopeID, kind, id))
	}
	for _, prefix := range prefixes {
		if err := c.store.DeletePrefix(ctx, prefix); err != nil {
			return fmt.Errorf("catalog: invalidate %s: %w", prefix, err)
		}
	}
	return nil
}

func (c *Catalog) epoch(scope string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochs[scope]
}

// load serves key from the store or runs fetch once per key and epoch across
// concurrent callers. The shared fetch does not inherit any caller's
// cancellation; each caller stops waiting on its own ctx. Store failures
// degrade to a direct fetch.
func (c *Catalog) load(ctx context.Context, scope, key string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if body, ok, err := c.store.Get(ctx, key); err != nil {
		slog.Warn("catalog: cache read failed", "key", key, "error", err)
	} else if ok {
		return body, nil
	}

	epoch := c.epoch(scope)
	flight := key + "#" + strconv.FormatUint(epoch, 10)
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flight, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(shared, fetchTimeout)
		defer cancel()
		body, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(shared, scope, key, epoch, body)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// storeIfCurrent writes body unless the scope was invalidated after the
// fetch began. The read lock keeps Invalidate from bumping the epoch between
// the check and the write; anything written before the bump is removed by
// Invalidate's prefix delete.
func (c *Catalog) storeIfCurrent(ctx context.Context, scope, key string, epoch uint64, body []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.epochs[scope] != epoch {
		return
	}
	if err := c.store.Set(ctx, key, body, c.ttl); err != nil {
		slog.Warn("catalog: cache write failed", "key", key, "error", err)
	}
}

func scopePrefix(scopeID string, kind entity.Kind) string {
	return "lens:" + scopeID + ":" + string(kind) + ":"
}

func detailPrefix(scopeID string, kind entity.Kind, id string) string {
	return scopePrefix(scopeID, kind) + "detail:" + id + ":"
}

func linksPrefix(scopeID string, kind entity.Kind, id string) string {
	return scopePrefix(scopeID, kind) + "links:" + id + ":"
}

func listPrefix(scopeID string, kind entity.Kind) string {
	return scopePrefix(scopeID, kind) + "list:"
}

func listKey(sess auth.Session, kind entity.Kind, q Query) string {
	source := "recent"
	text := ""
	if q.Searching() {
		source = "search"
		text = strings.ToLower(strings.TrimSpace(q.Text))
	}
	sum := sha1.Sum([]byte(source + "\x00" + text + "\x00" + q.Status + "\x00" + strconv.Itoa(q.Limit)))
	return listPrefix(sess.ScopeID, kind) + hex.EncodeToString(sum[:8]) + ":" + principal(sess)
}

// principal keys cached bodies per bearer; the backend may shape responses
// by the caller's role.
func principal(sess auth.Session) string {
	return auth.HashToken(sess.Token)[:16]
}
