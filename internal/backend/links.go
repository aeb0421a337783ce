package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pmslens/api/internal/auth"
	"pmslens/api/internal/entity"
)

type Confidence string

const (
	ConfidenceDeterministic Confidence = "deterministic"
	ConfidenceSuggested     Confidence = "suggested"
	ConfidenceNone          Confidence = "none"
)

// ThreadLink associates a correspondence thread with a domain record. Links
// are produced by the ingestion pipeline and are read-only here.
type ThreadLink struct {
	ThreadID      string      `json:"thread_id"`
	EntityKind    entity.Kind `json:"entity_type"`
	EntityID      string      `json:"entity_id"`
	Label         string      `json:"label,omitempty"`
	Confidence    Confidence  `json:"confidence"`
	Score         float64     `json:"score"`
	Justification string      `json:"justification,omitempty"`
}

// ThreadLinks fetches every link the pipeline produced for a thread.
func (c *Client) ThreadLinks(ctx context.Context, sess auth.Session, threadID string) ([]ThreadLink, error) {
	path := "/v1/email/thread/" + url.PathEscape(threadID) + "/links"
	body, err := c.do(ctx, sess, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var links []ThreadLink
	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		err = json.Unmarshal(body, &links)
	} else {
		var envelope struct {
			Links []ThreadLink `json:"links"`
		}
		err = json.Unmarshal(body, &envelope)
		links = envelope.Links
	}
	if err != nil {
		return nil, fmt.Errorf("decode thread links: %w", err)
	}
	for i := range links {
		if links[i].ThreadID == "" {
			links[i].ThreadID = threadID
		}
		if kind, ok := entity.ParseKind(string(links[i].EntityKind)); ok {
			links[i].EntityKind = kind
		}
		links[i].Confidence = Confidence(strings.ToLower(string(links[i].Confidence)))
	}
	return links, nil
}
