package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
)

// Filters narrows a recent list. Free-text search is a separate call.
type Filters struct {
	Status string
	Limit  int
}

func (f Filters) values() url.Values {
	values := url.Values{}
	if status := strings.TrimSpace(f.Status); status != "" {
		values.Set("status", status)
	}
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	return values
}

// ListEntities fetches the recent list for kind in the session's scope.
func (c *Client) ListEntities(ctx context.Context, sess auth.Session, kind entity.Kind, filters Filters) ([]entity.Summary, error) {
	desc := entity.Describe(kind)
	if desc.BackendResource == "" {
		return nil, fmt.Errorf("list %s: unknown kind", kind)
	}
	body, err := c.do(ctx, sess, http.MethodGet, "/v1/"+desc.BackendResource, filters.values(), nil)
	if err != nil {
		return nil, err
	}
	return decodeSummaries(kind, body)
}

// SearchEntities queries the backend search index.
func (c *Client) SearchEntities(ctx context.Context, sess auth.Session, kind entity.Kind, text string, limit int) ([]entity.Summary, error) {
	query := url.Values{}
	query.Set("q", text)
	query.Set("kind", string(kind))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, sess, http.MethodGet, "/v1/search", query, nil)
	if err != nil {
		return nil, err
	}
	return decodeSummaries(kind, body)
}

// GetEntityDetail fetches the full record for one id.
func (c *Client) GetEntityDetail(ctx context.Context, sess auth.Session, kind entity.Kind, id string) (entity.Detail, error) {
	raw, err := c.GetEntityDetailRaw(ctx, sess, kind, id)
	if err != nil {
		return nil, err
	}
	return entity.DecodeDetail(kind, raw)
}

// GetEntityDetailRaw returns the undecoded detail body, for callers that
// cache the wire form.
func (c *Client) GetEntityDetailRaw(ctx context.Context, sess auth.Session, kind entity.Kind, id string) ([]byte, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &StatusError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "empty id"}
	}
	path := "/v1/entity/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(id)
	return c.do(ctx, sess, http.MethodGet, path, nil, nil)
}

// decodeSummaries accepts a bare array or an object wrapping it under
// "data", "items" or "results".
func decodeSummaries(kind entity.Kind, body []byte) ([]entity.Summary, error) {
	var items []entity.Summary
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode %s list: %w", kind, err)
		}
	} else {
		var envelope struct {
			Data    []entity.Summary `json:"data"`
			Items   []entity.Summary `json:"items"`
			Results []entity.Summary `json:"results"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decode %s list: %w", kind, err)
		}
		switch {
		case envelope.Data != nil:
			items = envelope.Data
		case envelope.Items != nil:
			items = envelope.Items
		default:
			items = envelope.Results
		}
	}
	if items == nil {
		items = []entity.Summary{}
	}
	for i := range items {
		if items[i].Kind == "" {
			items[i].Kind = kind
		}
	}
	return items, nil
}
