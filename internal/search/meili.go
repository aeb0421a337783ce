package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"pmslens/api/internal/entity"
)

const idxEntities = "pms_entities"

// Meili is the Meilisearch-backed index.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server leaves the client unhealthy; the health loop keeps
// probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxEntities,
		PrimaryKey: "id",
	}); err != nil {
		slog.Debug("search: create index (may already exist)", "index", idxEntities, "error", err)
	}

	index := m.client.Index(idxEntities)
	filterable := []interface{}{"scope_id", "kind", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		slog.Warn("search: update filterable attributes", "index", idxEntities, "error", err)
	}
	searchable := []string{"number", "title", "labels"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		slog.Warn("search: update searchable attributes", "index", idxEntities, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the index within one scope and kind.
func (m *Meili) Search(scopeID string, kind entity.Kind, text string, limit int) ([]entity.Summary, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 50
	}

	resp, err := m.client.Index(idxEntities).Search(text, &meili.SearchRequest{
		Limit: int64(limit),
		Filter: []string{
			fmt.Sprintf("scope_id = %q", scopeID),
			fmt.Sprintf("kind = %q", string(kind)),
		},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]entity.Summary, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToSummary(hit, kind))
	}
	return results, nil
}

func hitToSummary(hit meili.Hit, kind entity.Kind) entity.Summary {
	summary := entity.Summary{
		ID:       decodeString(hit, "entity_id"),
		Kind:     kind,
		Number:   decodeString(hit, "number"),
		Title:    decodeString(hit, "title"),
		Status:   decodeString(hit, "status"),
		Priority: decodeString(hit, "priority"),
	}
	if raw, ok := hit["updated_at"]; ok {
		var unix int64
		if err := json.Unmarshal(raw, &unix); err == nil && unix > 0 {
			summary.UpdatedAt = time.Unix(unix, 0).UTC()
		}
	}
	return summary
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// IndexRecords adds or replaces records in the index.
func (m *Meili) IndexRecords(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEntities).AddDocuments(records, nil)
	return err
}
