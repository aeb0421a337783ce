package backend

import (
	"context"
	"net/http"

	"pmslens/api/internal/auth"
)

type LedgerEvent struct {
	ScopeID    string         `json:"scope_id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// LogEvent posts an audit event. The response body is ignored.
func (c *Client) LogEvent(ctx context.Context, sess auth.Session, event LedgerEvent) error {
	event.ScopeID = sess.ScopeID
	_, err := c.do(ctx, sess, http.MethodPost, "/v1/ledger/log", nil, event)
	return err
}
