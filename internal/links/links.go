// Package links renders the thread-to-record links produced by the email
// ingestion pipeline. It is read-only: there is no path to confirm, reject
// or create a link.
package links

import (
	"sort"
	"strings"

	"pmslens/api/internal/backend"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/routing"
)

const (
	DefaultThreshold = 0.5
	identifierRunes  = 8
)

type Item struct {
	Kind          entity.Kind        `json:"kind"`
	KindLabel     string             `json:"kind_label"`
	Icon          string             `json:"icon"`
	Identifier    string             `json:"identifier"`
	Confidence    backend.Confidence `json:"confidence"`
	Score         float64            `json:"score"`
	Justification string             `json:"justification,omitempty"`
	Href          string             `json:"href"`
}

type Panel struct {
	Title   string `json:"title"`
	Primary *Item  `json:"primary,omitempty"`
	Items   []Item `json:"items"`
}

// Resolve filters links below threshold and orders the rest. A single
// deterministic link becomes the primary link and titles the panel.
func Resolve(links []backend.ThreadLink, threshold float64) Panel {
	kept := make([]backend.ThreadLink, 0, len(links))
	for _, link := range links {
		if link.Confidence == backend.ConfidenceNone || !link.EntityKind.Valid() {
			continue
		}
		if score(link) < threshold {
			continue
		}
		kept = append(kept, link)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		si, sj := score(kept[i]), score(kept[j])
		if si != sj {
			return si > sj
		}
		di := kept[i].Confidence == backend.ConfidenceDeterministic
		dj := kept[j].Confidence == backend.ConfidenceDeterministic
		if di != dj {
			return di
		}
		return kept[i].EntityID < kept[j].EntityID
	})

	panel := Panel{Items: []Item{}}
	deterministic := -1
	for i, link := range kept {
		if link.Confidence == backend.ConfidenceDeterministic {
			if deterministic >= 0 {
				deterministic = -1
				break
			}
			deterministic = i
		}
	}

	for i, link := range kept {
		item := toItem(link)
		if i == deterministic {
			panel.Primary = &item
			continue
		}
		panel.Items = append(panel.Items, item)
	}

	switch {
	case panel.Primary != nil:
		panel.Title = panel.Primary.KindLabel + " " + panel.Primary.Identifier
	case len(panel.Items) > 0:
		panel.Title = "Linked Records"
	default:
		panel.Title = "No Linked Records"
	}
	return panel
}

// score treats a deterministic link without a score as certain.
func score(link backend.ThreadLink) float64 {
	if link.Confidence == backend.ConfidenceDeterministic && link.Score == 0 {
		return 1
	}
	return link.Score
}

func toItem(link backend.ThreadLink) Item {
	desc := entity.Describe(link.EntityKind)
	identifier := strings.TrimSpace(link.Label)
	if identifier == "" {
		identifier = link.EntityID
	}
	return Item{
		Kind:          link.EntityKind,
		KindLabel:     desc.Label,
		Icon:          desc.Icon,
		Identifier:    Truncate(identifier),
		Confidence:    link.Confidence,
		Score:         score(link),
		Justification: strings.TrimSpace(link.Justification),
		Href:          routing.Encode(routing.Selection{Kind: link.EntityKind, ID: link.EntityID}, routing.Flags{}),
	}
}

// Truncate shortens an identifier to eight runes followed by an ellipsis.
func Truncate(value string) string {
	runes := []rune(value)
	if len(runes) <= identifierRunes {
		return value
	}
	return string(runes[:identifierRunes]) + "…"
}

// ManualAffordance describes the manual linking control, which is always
// disabled.
type ManualAffordance struct {
	Enabled bool   `json:"enabled"`
	Label   string `json:"label"`
	Message string `json:"message"`
}

func ManualLinking() ManualAffordance {
	return ManualAffordance{
		Enabled: false,
		Label:   "Link to record",
		Message: "Links are created automatically when email is processed. Manual linking is not available yet.",
	}
}
