// Package search is the free-text data source for lists. Queries go to
// Meilisearch when it is healthy and to the backend search endpoint
// otherwise; results are never filtered client-side from a recent list.
package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
)

// MinQueryLength is the trimmed rune count at which lists switch from the
// recent source to the search index.
const MinQueryLength = 2

// UseIndex reports whether text should be answered by the search index.
func UseIndex(text string) bool {
	return len([]rune(strings.TrimSpace(text))) >= MinQueryLength
}

// Backend is the fallback search endpoint and the source for reindexing.
type Backend interface {
	SearchEntities(ctx context.Context, sess auth.Session, kind entity.Kind, text string, limit int) ([]entity.Summary, error)
}

// Record is the document stored per entity in the index.
type Record struct {
	ID        string `json:"id"`
	EntityID  string `json:"entity_id"`
	ScopeID   string `json:"scope_id"`
	Kind      string `json:"kind"`
	Number    string `json:"number"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	Labels    string `json:"labels"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewRecord flattens a summary into an index record. The document id is a
// digest because index primary keys only allow [A-Za-z0-9_-].
func NewRecord(scopeID string, summary entity.Summary) Record {
	labels := make([]string, 0, len(summary.Labels))
	for _, label := range summary.Labels {
		labels = append(labels, label.Value)
	}
	var updated int64
	if ts := summary.Timestamp(); !ts.IsZero() {
		updated = ts.Unix()
	}
	return Record{
		ID:        documentID(scopeID, summary.Kind, summary.ID),
		EntityID:  summary.ID,
		ScopeID:   scopeID,
		Kind:      string(summary.Kind),
		Number:    summary.Number,
		Title:     summary.Title,
		Status:    summary.Status,
		Priority:  summary.Priority,
		Labels:    strings.Join(labels, " "),
		UpdatedAt: updated,
	}
}

func documentID(scopeID string, kind entity.Kind, id string) string {
	sum := sha1.Sum([]byte(scopeID + "\x00" + string(kind) + "\x00" + id))
	return hex.EncodeToString(sum[:])
}
