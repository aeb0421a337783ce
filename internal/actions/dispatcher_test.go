package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/cache"
	"pmslens/api/internal/catalog"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/ledger"
)

var sess = auth.Session{Token: "tok-1", ScopeID: "Y1"}

// pmsFake is a tiny stand-in for the backend holding one work order.
type pmsFake struct {
	mu          sync.Mutex
	notes       []map[string]string
	listCalls   int32
	detailCalls int32
	actionCalls int32
	ledgerCalls int32
	ledgerFail  bool
}

func (f *pmsFake) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/work_orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.listCalls, 1)
		_, _ = w.Write([]byte(`[{"id":"wo-1","wo_number":"WO-2026-001","status":"in_progress"}]`))
	})
	mux.HandleFunc("GET /v1/entity/work_order/wo-1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.detailCalls, 1)
		f.mu.Lock()
		body := map[string]any{"id": "wo-1", "wo_number": "WO-2026-001", "status": "in_progress", "notes": f.notes}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("POST /v1/actions/execute", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.actionCalls, 1)
		var req backend.ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode action: %v", err)
		}
		if req.IdempotencyKey == "" {
			t.Errorf("missing idempotency key")
		}
		text, _ := req.Payload["note_text"].(string)
		f.mu.Lock()
		f.notes = append(f.notes, map[string]string{"id": "n-1", "note_text": text})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("POST /v1/ledger/log", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.ledgerCalls, 1)
		if f.ledgerFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestAddNoteInvalidatesAndRefetches(t *testing.T) {
	fake := &pmsFake{ledgerFail: true}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client := backend.NewClient(backend.ClientConfig{BaseURL: server.URL, RateLimit: 1000, RateBurst: 100})
	cat := catalog.New(client, nil, cache.NewMemoryStore(), time.Minute)
	led := ledger.New(client, ledger.Options{QueueSize: 8})
	d := NewDispatcher(client, cat, led)
	ctx := context.Background()

	_, err := cat.List(ctx, sess, entity.KindWorkOrder, catalog.Query{})
	require.NoError(t, err)
	detail, err := cat.Detail(ctx, sess, entity.KindWorkOrder, "wo-1")
	require.NoError(t, err)
	require.Empty(t, detail.Base().Notes)

	result := d.Execute(ctx, sess, "add_wo_note", Context{EntityKind: entity.KindWorkOrder, EntityID: "wo-1"}, map[string]any{"note_text": "Replaced filter"})
	require.True(t, result.Success, "result: %+v", result.Error)
	require.NotEmpty(t, result.IdempotencyKey)

	detail, err = cat.Detail(ctx, sess, entity.KindWorkOrder, "wo-1")
	require.NoError(t, err)
	require.Len(t, detail.Base().Notes, 1)
	require.Equal(t, "Replaced filter", detail.Base().Notes[0].Text)

	_, err = cat.List(ctx, sess, entity.KindWorkOrder, catalog.Query{})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&fake.listCalls))
	require.Equal(t, int32(2), atomic.LoadInt32(&fake.detailCalls))

	require.NoError(t, led.Close(ctx))
	require.Equal(t, int32(1), atomic.LoadInt32(&fake.ledgerCalls), "ledger failure must not fail the action")
}

type blockingExecutor struct {
	calls   int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) ExecuteAction(context.Context, auth.Session, backend.ActionRequest) (backend.ActionResponse, error) {
	atomic.AddInt32(&b.calls, 1)
	b.started <- struct{}{}
	<-b.release
	return backend.ActionResponse{Success: true}, nil
}

func TestDuplicateSubmissionIsRefused(t *testing.T) {
	exec := &blockingExecutor{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(exec, nil, nil)
	actx := Context{EntityKind: entity.KindWorkOrder, EntityID: "wo-1"}

	done := make(chan Result, 1)
	go func() { done <- d.Execute(context.Background(), sess, "mark_work_order_complete", actx, nil) }()
	<-exec.started

	require.True(t, d.Pending(sess, actx, "mark_work_order_complete"))
	require.True(t, d.PendingFunc(sess, actx)("mark_work_order_complete"))
	require.False(t, d.Pending(sess, actx, "add_wo_note"))

	dup := d.Execute(context.Background(), sess, "mark_work_order_complete", actx, nil)
	require.False(t, dup.Success)
	require.Equal(t, CodeDuplicateSubmission, dup.Error.Code)

	close(exec.release)
	require.True(t, (<-done).Success)
	require.False(t, d.Pending(sess, actx, "mark_work_order_complete"))
	require.Equal(t, int32(1), atomic.LoadInt32(&exec.calls))
}

func TestInflightGuardIsPerBearerAndScope(t *testing.T) {
	exec := &blockingExecutor{started: make(chan struct{}, 3), release: make(chan struct{})}
	d := NewDispatcher(exec, nil, nil)
	actx := Context{EntityKind: entity.KindWorkOrder, EntityID: "wo-1"}
	alice := auth.Session{Token: "alice", ScopeID: "Y1"}
	bob := auth.Session{Token: "bob", ScopeID: "Y1"}
	carol := auth.Session{Token: "carol", ScopeID: "Y2"}

	done := make(chan Result, 3)
	for _, s := range []auth.Session{alice, bob, carol} {
		go func() { done <- d.Execute(context.Background(), s, "add_wo_note", actx, nil) }()
	}
	for range 3 {
		<-exec.started
	}

	require.True(t, d.Pending(alice, actx, "add_wo_note"))
	require.True(t, d.Pending(bob, actx, "add_wo_note"))
	require.False(t, d.Pending(auth.Session{Token: "dave", ScopeID: "Y1"}, actx, "add_wo_note"))

	dup := d.Execute(context.Background(), alice, "add_wo_note", actx, nil)
	require.Equal(t, CodeDuplicateSubmission, dup.Error.Code)
	require.Equal(t, http.StatusConflict, dup.Error.Status)

	close(exec.release)
	for range 3 {
		require.True(t, (<-done).Success)
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&exec.calls))
}

type countingExecutor struct {
	calls int32
	resp  backend.ActionResponse
	err   error
}

func (c *countingExecutor) ExecuteAction(context.Context, auth.Session, backend.ActionRequest) (backend.ActionResponse, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.resp, c.err
}

func TestMissingSessionSkipsNetwork(t *testing.T) {
	exec := &countingExecutor{}
	d := NewDispatcher(exec, nil, nil)
	result := d.Execute(context.Background(), auth.Session{ScopeID: "Y1"}, "add_wo_note", Context{EntityKind: entity.KindWorkOrder, EntityID: "wo-1"}, nil)
	require.False(t, result.Success)
	require.Equal(t, CodeNotAuthenticated, result.Error.Code)
	require.Equal(t, http.StatusUnauthorized, result.Error.Status)
	require.Zero(t, atomic.LoadInt32(&exec.calls))
}

func TestBackendErrorsBecomeResults(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		resp      backend.ActionResponse
		code      string
		retryable bool
	}{
		{name: "not found", err: &backend.StatusError{Status: 404, Code: "NOT_FOUND", Message: "gone"}, code: CodeNotFound},
		{name: "forbidden", err: &backend.StatusError{Status: 403}, code: CodeForbidden},
		{name: "validation", err: &backend.StatusError{Status: 422, Code: "VALIDATION", Message: "note_text required"}, code: "VALIDATION"},
		{name: "server", err: &backend.StatusError{Status: 502}, code: CodeTransient, retryable: true},
		{name: "refused", resp: backend.ActionResponse{Success: false, Code: "INVALID_STATE", Error: "already closed"}, code: "INVALID_STATE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDispatcher(&countingExecutor{resp: tc.resp, err: tc.err}, nil, nil)
			result := d.Execute(context.Background(), sess, "close_fault", Context{EntityKind: entity.KindFault, EntityID: "f-1"}, nil)
			require.False(t, result.Success)
			require.NotNil(t, result.Error)
			require.Equal(t, tc.code, result.Error.Code)
			require.Equal(t, tc.retryable, result.Error.Retryable)
		})
	}
}

func TestInvalidAction(t *testing.T) {
	d := NewDispatcher(&countingExecutor{}, nil, nil)
	result := d.Execute(context.Background(), sess, " ", Context{EntityKind: entity.KindFault, EntityID: "f-1"}, nil)
	require.Equal(t, CodeInvalidAction, result.Error.Code)
}
