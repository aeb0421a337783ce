package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pmslens/api/internal/actions"
	"pmslens/api/internal/auth"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/cache"
	"pmslens/api/internal/catalog"
	"pmslens/api/internal/config"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/export"
	"pmslens/api/internal/ledger"
	"pmslens/api/internal/lens"
	"pmslens/api/internal/links"
	"pmslens/api/internal/listing"
	"pmslens/api/internal/rbac"
	"pmslens/api/internal/routing"
	"pmslens/api/internal/search"
)

// Backend is everything the gateway asks of the PMS API.
type Backend interface {
	catalog.Source
	search.Backend
	actions.Executor
	ledger.Poster
	Ping(ctx context.Context) error
}

// Deps are the collaborators main wires up. Search and Presigner are
// optional.
type Deps struct {
	Backend   Backend
	Cache     cache.Store
	Search    *search.Service
	Presigner lens.Presigner
	Ledger    *ledger.Ledger
}

type Service struct {
	cfg        config.Config
	flags      routing.Flags
	backend    Backend
	cache      cache.Store
	catalog    *catalog.Catalog
	dispatcher *actions.Dispatcher
	ledger     *ledger.Ledger
	presigner  lens.Presigner
	exporter   *export.Service
	views      *ViewRegistry
	now        func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	searcher := deps.Search
	if searcher == nil {
		searcher = search.NewService(nil, deps.Backend, cfg.Search.Limit)
	}
	store := deps.Cache
	if store == nil {
		store = cache.NewMemoryStore()
	}
	led := deps.Ledger
	if led == nil {
		led = ledger.New(deps.Backend, ledger.Options{QueueSize: cfg.Ledger.QueueSize, Timeout: cfg.Ledger.Timeout})
	}

	cat := catalog.New(deps.Backend, searcher, store, cfg.Cache.TTL)
	s := &Service{
		cfg:        cfg,
		flags:      routing.Flags{LensRoutes: cfg.Features.LensRoutes},
		backend:    deps.Backend,
		cache:      store,
		catalog:    cat,
		dispatcher: actions.NewDispatcher(deps.Backend, cat, led),
		ledger:     led,
		presigner:  deps.Presigner,
		exporter:   export.NewService(),
		now:        time.Now,
	}
	s.views = NewViewRegistry(s, cfg.Views.IdleTTL)
	return s
}

// Flags is the read-only route flag resolved at startup.
func (s *Service) Flags() routing.Flags {
	return s.flags
}

// Close stops view sessions and drains the ledger.
func (s *Service) Close(ctx context.Context) error {
	s.views.Close()
	return s.ledger.Close(ctx)
}

// Ping checks the backend and the cache for /api/ready.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{}
	g, ctx := errgroup.WithContext(ctx)
	results := make([]error, 2)
	g.Go(func() error {
		results[0] = s.backend.Ping(ctx)
		return nil
	})
	g.Go(func() error {
		results[1] = s.cache.Ping(ctx)
		return nil
	})
	_ = g.Wait()
	checks["backend"] = results[0]
	checks["cache"] = results[1]
	return checks
}

// ListPage is the list view model, optionally carrying the lens of the
// selected record.
type ListPage struct {
	Kind        entity.Kind             `json:"kind"`
	Label       string                  `json:"label"`
	Plural      string                  `json:"plural"`
	Icon        string                  `json:"icon"`
	Address     string                  `json:"address"`
	Selection   routing.Selection       `json:"selection"`
	State       listing.State           `json:"state"`
	Source      listing.Source          `json:"source"`
	Grouping    listing.Grouping        `json:"grouping"`
	Groups      []listing.Group         `json:"groups"`
	Count       int                     `json:"count"`
	Error       *listing.ErrorState     `json:"error,omitempty"`
	Lens        *LensView               `json:"lens,omitempty"`
	Permissions rbac.Permissions        `json:"permissions"`
	Manual      *links.ManualAffordance `json:"manual_linking,omitempty"`
}

// LensView is a lens plus the link panel for threads.
type LensView struct {
	lens.Lens
	Links *links.Panel `json:"links,omitempty"`
}

// ListOptions are the list-only query parameters.
type ListOptions struct {
	Status   string
	Grouping listing.Grouping
}

// ListPage loads a list and, when the selection names a record, its lens.
// Both loads run concurrently; failures become view state.
func (s *Service) ListPage(ctx context.Context, sess auth.Session, sel routing.Selection, opts ListOptions) ListPage {
	desc := entity.Describe(sel.Kind)
	grouping := opts.Grouping
	if grouping == "" {
		grouping = listing.DefaultGrouping(sel.Kind)
	}
	query := catalog.Query{Text: strings.TrimSpace(sel.Filter), Status: opts.Status, Limit: s.cfg.Search.Limit}

	page := ListPage{
		Kind:        sel.Kind,
		Label:       desc.Label,
		Plural:      desc.Plural,
		Icon:        desc.Icon,
		Address:     routing.Encode(sel, s.flags),
		Selection:   sel,
		Source:      listing.SourceRecent,
		Grouping:    grouping,
		Groups:      []listing.Group{},
		Permissions: rbac.For(sess.Role, sel.Kind),
	}
	if query.Searching() {
		page.Source = listing.SourceSearch
	}
	if sel.Kind == entity.KindThread {
		manual := links.ManualLinking()
		page.Manual = &manual
	}

	var (
		items   []entity.Summary
		listErr error
		view    *LensView
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, listErr = s.catalog.List(gctx, sess, sel.Kind, query)
		return nil
	})
	if sel.ID != "" {
		g.Go(func() error {
			v := s.LensPage(gctx, sess, sel)
			view = &v
			return nil
		})
	}
	_ = g.Wait()

	if listErr != nil {
		state := listing.Status(listErr)
		page.State = listing.StateErrored
		page.Error = &state
	} else {
		page.State = listing.StateReady
		page.Groups = grouping.Apply(s.now(), sel.Kind, items)
		page.Count = len(items)
	}
	page.Lens = view

	s.ledger.Record(sess, ledger.Event{
		Type:       ledger.EventListViewed,
		EntityKind: sel.Kind,
		Metadata:   map[string]any{"filter": sel.Filter, "source": string(page.Source), "count": page.Count},
	})
	return page
}

// LensPage loads and renders one record. Threads also load their link panel
// alongside the detail.
func (s *Service) LensPage(ctx context.Context, sess auth.Session, sel routing.Selection) LensView {
	var (
		detail    entity.Detail
		detailErr error
		panel     *links.Panel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		detail, detailErr = s.catalog.Detail(gctx, sess, sel.Kind, sel.ID)
		return nil
	})
	if sel.Kind == entity.KindThread {
		g.Go(func() error {
			p, err := s.ThreadLinks(gctx, sess, sel.ID)
			if err != nil {
				slog.Warn("app: thread links unavailable", "error", err)
				return nil
			}
			panel = &p
			return nil
		})
	}
	_ = g.Wait()

	if detailErr != nil {
		return LensView{Lens: lens.Failure(sel, detailErr, s.flags)}
	}

	s.ledger.Record(sess, ledger.Event{Type: ledger.EventLensOpened, EntityKind: sel.Kind, EntityID: sel.ID})
	return LensView{Lens: s.render(ctx, sess, detail, sel.Filter), Links: panel}
}

func (s *Service) render(ctx context.Context, sess auth.Session, detail entity.Detail, filter string) lens.Lens {
	actx := actions.Context{ScopeID: sess.ScopeID, EntityKind: detail.Kind(), EntityID: detail.Base().ID}
	return lens.Build(ctx, detail, rbac.For(sess.Role, detail.Kind()), lens.Options{
		Now:       s.now(),
		Flags:     s.flags,
		Filter:    filter,
		Pending:   s.dispatcher.PendingFunc(sess, actx),
		Presigner: s.presigner,
	})
}

// ThreadLinks resolves the link panel for a thread.
func (s *Service) ThreadLinks(ctx context.Context, sess auth.Session, threadID string) (links.Panel, error) {
	raw, err := s.catalog.ThreadLinks(ctx, sess, threadID)
	if err != nil {
		return links.Panel{}, err
	}
	return links.Resolve(raw, links.DefaultThreshold), nil
}

// Dispatch executes an action against a record.
func (s *Service) Dispatch(ctx context.Context, sess auth.Session, kind entity.Kind, id, action string, payload map[string]any) actions.Result {
	return s.dispatcher.Execute(ctx, sess, action, actions.Context{ScopeID: sess.ScopeID, EntityKind: kind, EntityID: id}, payload)
}

// Export renders a loaded lens as HTML or PDF.
func (s *Service) Export(ctx context.Context, sess auth.Session, sel routing.Selection, format export.Format) (*export.Result, error) {
	detail, err := s.catalog.Detail(ctx, sess, sel.Kind, sel.ID)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, s.render(ctx, sess, detail, ""), format)
}

// statusForLens is the HTTP status a rendered lens is served with.
func statusForLens(state lens.State) int {
	switch state {
	case lens.StateNotFound:
		return 404
	case lens.StateForbidden:
		return 403
	case lens.StateUnauthenticated:
		return 401
	case lens.StateError:
		return 502
	}
	return 200
}

// statusForList is the HTTP status a list page is served with.
func statusForList(page ListPage) int {
	if page.Error == nil {
		return 200
	}
	switch page.Error.Class {
	case backend.ClassUnauthenticated:
		return 401
	case backend.ClassForbidden:
		return 403
	case backend.ClassNotFound:
		return 404
	}
	return 502
}
