package entity

import (
	"encoding/json"
	"strings"
	"time"
)

// Label is a denormalized display value carried on a summary, e.g. the
// equipment name on a work order row.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Summary is the list projection of a record. Lists are replaced wholesale on
// every fetch; a summary is never patched in place.
type Summary struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Number         string    `json:"number,omitempty"`
	Title          string    `json:"title,omitempty"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority,omitempty"`
	Labels         []Label   `json:"labels,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
	LinkConfidence string    `json:"link_confidence,omitempty"`
}

// summaryWire accepts the kind-specific number and label columns the backend
// emits on list rows, alongside the canonical shape this package writes.
type summaryWire struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Number         string    `json:"number"`
	WONumber       string    `json:"wo_number"`
	FaultNumber    string    `json:"fault_number"`
	PartNumber     string    `json:"part_number"`
	Code           string    `json:"code"`
	ClaimNumber    string    `json:"claim_number"`
	HandoverNumber string    `json:"handover_number"`
	Title          string    `json:"title"`
	Name           string    `json:"name"`
	Subject        string    `json:"subject"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	Severity       string    `json:"severity"`
	Labels         []Label   `json:"labels"`
	EquipmentName  string    `json:"equipment_name"`
	AssigneeName   string    `json:"assignee_name"`
	Location       string    `json:"location"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastMessageAt  time.Time `json:"last_message_at"`
	LinkConfidence string    `json:"link_confidence"`
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var wire summaryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = Summary{
		ID:             wire.ID,
		Kind:           wire.Kind,
		Number:         firstNonBlank(wire.Number, wire.WONumber, wire.FaultNumber, wire.PartNumber, wire.Code, wire.ClaimNumber, wire.HandoverNumber),
		Title:          firstNonBlank(wire.Title, wire.Name, wire.Subject),
		Status:         strings.ToLower(strings.TrimSpace(wire.Status)),
		Priority:       firstNonBlank(wire.Priority, wire.Severity),
		Labels:         wire.Labels,
		CreatedAt:      wire.CreatedAt,
		UpdatedAt:      wire.UpdatedAt,
		LinkConfidence: wire.LinkConfidence,
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = firstNonZero(wire.LastMessageAt, wire.CreatedAt)
	}
	if len(s.Labels) == 0 {
		s.Labels = appendLabel(s.Labels, "Equipment", wire.EquipmentName)
		s.Labels = appendLabel(s.Labels, "Assignee", wire.AssigneeName)
		s.Labels = appendLabel(s.Labels, "Location", wire.Location)
	}
	return nil
}

// DisplayName is what a list row shows as its identifier: the human number
// when present, else the title. The internal id is never used.
func (s Summary) DisplayName() string {
	if name := firstNonBlank(s.Number, s.Title); name != "" {
		return name
	}
	return Describe(s.Kind).Label + " (unnumbered)"
}

// Timestamp is the time used for time-bucketed grouping.
func (s Summary) Timestamp() time.Time {
	return firstNonZero(s.UpdatedAt, s.CreatedAt)
}

func appendLabel(labels []Label, name, value string) []Label {
	if strings.TrimSpace(value) == "" {
		return labels
	}
	return append(labels, Label{Name: name, Value: value})
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstNonZero(values ...time.Time) time.Time {
	for _, value := range values {
		if !value.IsZero() {
			return value
		}
	}
	return time.Time{}
}
