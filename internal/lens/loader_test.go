package lens

import (
	"context"
	"sync"
	"testing"
	"time"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
)

// gatedFetcher holds every fetch until the test releases that id.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedFetcher(ids ...string) *gatedFetcher {
	f := &gatedFetcher{gates: map[string]chan struct{}{}}
	for _, id := range ids {
		f.gates[id] = make(chan struct{})
	}
	return f
}

func (f *gatedFetcher) release(id string) {
	f.mu.Lock()
	close(f.gates[id])
	f.mu.Unlock()
}

func (f *gatedFetcher) Detail(_ context.Context, _ auth.Session, _ entity.Kind, id string) (entity.Detail, error) {
	f.mu.Lock()
	gate := f.gates[id]
	f.mu.Unlock()
	<-gate
	return &entity.WorkOrder{Record: entity.Record{ID: id, Status: "open"}, WONumber: "WO-" + id}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoaderDiscardsStaleResponse(t *testing.T) {
	fetcher := newGatedFetcher("A", "B")
	var (
		mu       sync.Mutex
		rendered []string
	)
	loader := NewLoader(fetcher, auth.Session{Token: "t", ScopeID: "Y1"}, entity.KindWorkOrder, func(r Result) {
		if r.Detail != nil {
			mu.Lock()
			rendered = append(rendered, r.Detail.Base().ID)
			mu.Unlock()
		}
	})

	loader.Select("A")
	loader.Select("B")

	fetcher.release("B")
	waitFor(t, func() bool { return loader.Result().Detail != nil })
	fetcher.release("A")
	time.Sleep(30 * time.Millisecond)

	result := loader.Result()
	if result.ID != "B" || result.Detail.Base().ID != "B" {
		t.Fatalf("result = %+v", result)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(rendered) != 1 || rendered[0] != "B" {
		t.Fatalf("rendered = %v, want only B", rendered)
	}
}

func TestLoaderReloadReissues(t *testing.T) {
	fetcher := newGatedFetcher("A")
	fetcher.release("A")
	loader := NewLoader(fetcher, auth.Session{Token: "t", ScopeID: "Y1"}, entity.KindWorkOrder, nil)

	loader.Select("A")
	waitFor(t, func() bool { return loader.Result().Detail != nil })
	first := loader.Result().Generation

	loader.Reload()
	if !loader.Result().Loading {
		t.Fatal("reload should enter loading")
	}
	waitFor(t, func() bool { return loader.Result().Detail != nil })
	if loader.Result().Generation <= first {
		t.Fatal("reload should bump the generation")
	}
}

func TestLoaderClearSelection(t *testing.T) {
	loader := NewLoader(newGatedFetcher(), auth.Session{}, entity.KindWorkOrder, nil)
	loader.Select("")
	if r := loader.Result(); r.Loading || r.ID != "" {
		t.Fatalf("cleared result = %+v", r)
	}
}

// ctxFetcher blocks until its context ends and reports the ids it saw cancelled.
type ctxFetcher struct {
	started   chan string
	cancelled chan string
}

func (f *ctxFetcher) Detail(ctx context.Context, _ auth.Session, _ entity.Kind, id string) (entity.Detail, error) {
	f.started <- id
	<-ctx.Done()
	f.cancelled <- id
	return nil, ctx.Err()
}

func TestLoaderCancelsSupersededFetch(t *testing.T) {
	fetcher := &ctxFetcher{started: make(chan string, 4), cancelled: make(chan string, 4)}
	loader := NewLoader(fetcher, auth.Session{Token: "t", ScopeID: "Y1"}, entity.KindWorkOrder, nil)

	expect := func(ch chan string, want string) {
		t.Helper()
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	loader.Select("A")
	expect(fetcher.started, "A")
	loader.Select("B")
	expect(fetcher.cancelled, "A")
	expect(fetcher.started, "B")

	loader.Close()
	expect(fetcher.cancelled, "B")
	if r := loader.Result(); r.ID != "B" || !r.Loading {
		t.Fatalf("closed loader must keep its last state, got %+v", r)
	}
}
