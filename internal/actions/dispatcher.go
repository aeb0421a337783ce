// Package actions posts mutation intents to the backend's unified action
// endpoint. Failures come back as a structured Result, never as a Go error,
// so the caller decides between an inline message and a toast.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/backend"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/ledger"
)

const (
	CodeNotAuthenticated    = "NOT_AUTHENTICATED"
	CodeDuplicateSubmission = "DUPLICATE_SUBMISSION"
	CodeInvalidAction       = "INVALID_ACTION"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeTransient           = "TRANSIENT"
	CodeActionFailed        = "ACTION_FAILED"
)

// Context names the record an action applies to.
type Context struct {
	ScopeID    string      `json:"scope_id"`
	EntityKind entity.Kind `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
}

type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"status,omitempty"`
	Retryable bool   `json:"retryable"`
}

type Result struct {
	Success        bool            `json:"success"`
	Action         string          `json:"action"`
	Data           json.RawMessage `json:"data,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Executor posts to the action endpoint.
type Executor interface {
	ExecuteAction(ctx context.Context, sess auth.Session, req backend.ActionRequest) (backend.ActionResponse, error)
}

// Invalidator drops cached reads for a record.
type Invalidator interface {
	Invalidate(ctx context.Context, scopeID string, kind entity.Kind, id string) error
}

// Recorder accepts best-effort ledger events.
type Recorder interface {
	Record(sess auth.Session, event ledger.Event) bool
}

// Dispatcher executes actions. It does not check roles; the backend is the
// authority and affordance visibility is decided by the lens.
type Dispatcher struct {
	exec   Executor
	cache  Invalidator
	ledger Recorder

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewDispatcher(exec Executor, cache Invalidator, rec Recorder) *Dispatcher {
	return &Dispatcher{
		exec:     exec,
		cache:    cache,
		ledger:   rec,
		inflight: make(map[string]struct{}),
	}
}

// Execute runs one action. A second submission of the same action on the same
// record by the same bearer while the first is in flight is refused without a
// network call. Other users and other scopes are never blocked; the backend
// arbitrates between them.
func (d *Dispatcher) Execute(ctx context.Context, sess auth.Session, name string, actx Context, payload map[string]any) Result {
	name = strings.TrimSpace(name)
	if !sess.Valid() {
		return failure(name, CodeNotAuthenticated, "Please sign in to continue.", http.StatusUnauthorized, false)
	}
	if name == "" || actx.EntityID == "" {
		return failure(name, CodeInvalidAction, "An action name and a record are required.", http.StatusBadRequest, false)
	}
	if actx.ScopeID == "" {
		actx.ScopeID = sess.ScopeID
	}

	key := inflightKey(sess, actx, name)
	if !d.begin(key) {
		return failure(name, CodeDuplicateSubmission, "This action is already being submitted.", http.StatusConflict, false)
	}
	defer d.end(key)

	idem := uuid.NewString()
	resp, err := d.exec.ExecuteAction(ctx, sess, backend.ActionRequest{
		Action: name,
		Context: backend.ActionContext{
			ScopeID:    actx.ScopeID,
			EntityType: string(actx.EntityKind),
			EntityID:   actx.EntityID,
		},
		Payload:        payload,
		IdempotencyKey: idem,
	})
	if err != nil {
		slog.Warn("actions: execute failed", "action", name, "entity_type", actx.EntityKind, "error", err)
		result := fromError(name, err)
		result.IdempotencyKey = idem
		return result
	}
	if !resp.Success {
		code := resp.Code
		if code == "" {
			code = CodeActionFailed
		}
		message := resp.Error
		if message == "" {
			message = "The action was not applied."
		}
		return Result{Action: name, Error: &Error{Code: code, Message: message}, IdempotencyKey: idem}
	}

	if d.cache != nil {
		if err := d.cache.Invalidate(context.WithoutCancel(ctx), actx.ScopeID, actx.EntityKind, actx.EntityID); err != nil {
			slog.Warn("actions: cache invalidation failed", "action", name, "entity_type", actx.EntityKind, "error", err)
		}
	}
	if d.ledger != nil {
		d.ledger.Record(sess, ledger.Event{
			Type:       ledger.EventActionExecuted,
			EntityKind: actx.EntityKind,
			EntityID:   actx.EntityID,
			Metadata:   map[string]any{"action": name, "idempotency_key": idem},
		})
	}

	return Result{Success: true, Action: name, Data: resp.Data, IdempotencyKey: idem}
}

// Pending reports whether name is in flight for the record on behalf of sess.
func (d *Dispatcher) Pending(sess auth.Session, actx Context, name string) bool {
	if actx.ScopeID == "" {
		actx.ScopeID = sess.ScopeID
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[inflightKey(sess, actx, name)]
	return ok
}

// PendingFunc binds Pending to one bearer and record, in the shape the lens
// expects.
func (d *Dispatcher) PendingFunc(sess auth.Session, actx Context) func(string) bool {
	return func(name string) bool { return d.Pending(sess, actx, name) }
}

func (d *Dispatcher) begin(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[key]; busy {
		return false
	}
	d.inflight[key] = struct{}{}
	return true
}

func (d *Dispatcher) end(key string) {
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
}

func inflightKey(sess auth.Session, actx Context, name string) string {
	return strings.Join([]string{auth.HashToken(sess.Token), actx.ScopeID, string(actx.EntityKind), actx.EntityID, name}, "\x00")
}

func failure(action, code, message string, status int, retryable bool) Result {
	return Result{Action: action, Error: &Error{Code: code, Message: message, Status: status, Retryable: retryable}}
}

func fromError(action string, err error) Result {
	var statusErr *backend.StatusError
	status := backend.StatusOf(err)
	switch backend.Classify(err) {
	case backend.ClassUnauthenticated:
		return failure(action, CodeNotAuthenticated, "Please sign in to continue.", http.StatusUnauthorized, false)
	case backend.ClassNotFound:
		result := failure(action, CodeNotFound, "The record no longer exists.", status, false)
		if errors.As(err, &statusErr) && statusErr.Code != "" {
			result.Error.Code = statusErr.Code
		}
		return result
	case backend.ClassForbidden:
		return failure(action, CodeForbidden, "You are not permitted to perform this action.", status, false)
	}

	result := failure(action, CodeTransient, "The action could not be completed. Try again.", status, true)
	if errors.As(err, &statusErr) {
		if statusErr.Code != "" {
			result.Error.Code = statusErr.Code
		}
		if statusErr.Status >= 400 && statusErr.Status < 500 {
			result.Error.Message = statusErr.Message
			result.Error.Retryable = false
		}
	}
	return result
}
