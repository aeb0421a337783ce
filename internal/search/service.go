package search

import (
	"context"
	"log/slog"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
)

// Service tries Meilisearch first and falls back to the backend endpoint.
type Service struct {
	meili   *Meili
	backend Backend
	limit   int
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, backend Backend, limit int) *Service {
	if limit <= 0 {
		limit = 50
	}
	return &Service{meili: meili, backend: backend, limit: limit}
}

// Search answers a free-text query for one kind within the session's scope.
func (s *Service) Search(ctx context.Context, sess auth.Session, kind entity.Kind, text string) ([]entity.Summary, error) {
	if s.meili != nil && s.meili.Healthy() && sess.Valid() {
		results, err := s.meili.Search(sess.ScopeID, kind, text, s.limit)
		if err == nil {
			return results, nil
		}
		slog.Warn("search: meilisearch error, falling back to backend", "error", err)
	}
	return s.backend.SearchEntities(ctx, sess, kind, text, s.limit)
}

// IndexSummaries pushes freshly listed summaries into the index
// (fire-and-forget).
func (s *Service) IndexSummaries(scopeID string, summaries []entity.Summary) {
	if s.meili == nil || !s.meili.Healthy() || len(summaries) == 0 {
		return
	}
	records := make([]Record, 0, len(summaries))
	for _, summary := range summaries {
		records = append(records, NewRecord(scopeID, summary))
	}
	go func() {
		if err := s.meili.IndexRecords(records); err != nil {
			slog.Warn("search: index summaries", "scope_id", scopeID, "count", len(records), "error", err)
		}
	}()
}

// Indexing reports whether an index is configured and reachable.
func (s *Service) Indexing() bool {
	return s.meili != nil && s.meili.Healthy()
}
