package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"pmslens/api/internal/auth"
)

type ActionContext struct {
	ScopeID    string `json:"scope_id"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id"`
}

type ActionRequest struct {
	Action  string         `json:"action"`
	Context ActionContext  `json:"context"`
	Payload map[string]any `json:"payload"`
	// IdempotencyKey lets the backend collapse a retried submission.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ActionResponse is the success body of the action endpoint.
type ActionResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExecuteAction posts a mutation intent. Non-2xx responses come back as
// *StatusError with the machine-readable code from the body.
func (c *Client) ExecuteAction(ctx context.Context, sess auth.Session, req ActionRequest) (ActionResponse, error) {
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}
	req.Context.ScopeID = sess.ScopeID
	body, err := c.do(ctx, sess, http.MethodPost, "/v1/actions/execute", nil, req)
	if err != nil {
		return ActionResponse{}, err
	}
	var resp ActionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ActionResponse{}, fmt.Errorf("decode action response: %w", err)
	}
	if !resp.Success && resp.Code == "" && resp.Error == "" {
		return resp, errors.New("action endpoint returned success=false without a reason")
	}
	return resp, nil
}
