package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
)

var testSession = auth.Session{Token: "tok-1", ScopeID: "Y1"}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{BaseURL: server.URL, RateLimit: 1000, RateBurst: 100}), &calls
}

func TestListEntitiesSendsScopeAndBearer(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/work_orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("scope_id") != "Y1" {
			t.Errorf("scope_id = %q", r.URL.Query().Get("scope_id"))
		}
		if r.URL.Query().Get("status") != "open" {
			t.Errorf("status = %q", r.URL.Query().Get("status"))
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`[{"id":"wo-1","wo_number":"WO-2026-001","status":"in_progress"}]`))
	})

	items, err := client.ListEntities(context.Background(), testSession, entity.KindWorkOrder, Filters{Status: "open"})
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(items) != 1 || items[0].ID != "wo-1" || items[0].Number != "WO-2026-001" || items[0].Kind != entity.KindWorkOrder {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestListEntitiesEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"f-1","fault_number":"F-1","status":"open"}]}`))
	})
	items, err := client.ListEntities(context.Background(), testSession, entity.KindFault, Filters{})
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(items) != 1 || items[0].Number != "F-1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestMissingSessionFailsBeforeNetwork(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []auth.Session{
		{Token: "", ScopeID: "Y1"},
		{Token: "tok", ScopeID: ""},
	}
	for _, sess := range cases {
		_, err := client.GetEntityDetail(context.Background(), sess, entity.KindWorkOrder, "wo-1")
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		if Classify(err) != ClassUnauthenticated {
			t.Fatalf("Classify() = %q", Classify(err))
		}
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("expected no network calls, got %d", *calls)
	}
}

func TestStatusErrorsAreTyped(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		class  Class
		code   string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":"Work order not found","code":"NOT_FOUND"}`, class: ClassNotFound, code: "NOT_FOUND"},
		{name: "forbidden", status: http.StatusForbidden, body: `{"detail":"role lacks access"}`, class: ClassForbidden},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"expired"}`, class: ClassUnauthenticated},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, class: ClassTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.GetEntityDetail(context.Background(), testSession, entity.KindWorkOrder, "wo-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if StatusOf(err) != tc.status {
				t.Fatalf("StatusOf() = %d, want %d", StatusOf(err), tc.status)
			}
			if Classify(err) != tc.class {
				t.Fatalf("Classify() = %q, want %q", Classify(err), tc.class)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.Code != tc.code {
				t.Fatalf("unexpected status error: %#v", err)
			}
			if atomic.LoadInt32(calls) != 1 {
				t.Fatalf("accessor must not retry, got %d calls", *calls)
			}
		})
	}
}

func TestGetEntityDetailDecodesUnion(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/entity/work_order/wo-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"wo-1","wo_number":"WO-2026-001","status":"in_progress","notes":[{"id":"n1","note_text":"Checked"}]}`))
	})
	detail, err := client.GetEntityDetail(context.Background(), testSession, entity.KindWorkOrder, "wo-1")
	if err != nil {
		t.Fatalf("GetEntityDetail() error = %v", err)
	}
	wo, ok := detail.(*entity.WorkOrder)
	if !ok {
		t.Fatalf("expected *entity.WorkOrder, got %T", detail)
	}
	if wo.WONumber != "WO-2026-001" || len(wo.Notes) != 1 {
		t.Fatalf("unexpected work order: %+v", wo)
	}
}

func TestExecuteActionBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/actions/execute" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.Action != "add_wo_note" || body.Context.ScopeID != "Y1" || body.Context.EntityID != "wo-1" {
			t.Errorf("unexpected body: %+v", body)
		}
		if body.Payload["note_text"] != "Replaced filter" {
			t.Errorf("payload = %+v", body.Payload)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"note_id":"n-9"}}`))
	})

	resp, err := client.ExecuteAction(context.Background(), testSession, ActionRequest{
		Action:  "add_wo_note",
		Context: ActionContext{EntityType: "work_order", EntityID: "wo-1"},
		Payload: map[string]any{"note_text": "Replaced filter"},
	})
	if err != nil {
		t.Fatalf("ExecuteAction() error = %v", err)
	}
	if !resp.Success || string(resp.Data) != `{"note_id":"n-9"}` {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestThreadLinksNormalizesKinds(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"links":[{"entity_type":"work-order","entity_id":"wo-1","confidence":"DETERMINISTIC","score":1}]}`))
	})
	links, err := client.ThreadLinks(context.Background(), testSession, "th-1")
	if err != nil {
		t.Fatalf("ThreadLinks() error = %v", err)
	}
	if len(links) != 1 || links[0].EntityKind != entity.KindWorkOrder || links[0].Confidence != ConfidenceDeterministic || links[0].ThreadID != "th-1" {
		t.Fatalf("unexpected links: %+v", links)
	}
}
