package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrMalformedDetail = errors.New("malformed entity detail")

type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"note_text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mime_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
}

type EquipmentRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code,omitempty"`
	Status string `json:"status,omitempty"`
}

type DocumentRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Record holds the fields every detail kind shares.
type Record struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Status      string         `json:"status"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Notes       []Note         `json:"notes,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Equipment   []EquipmentRef `json:"equipment,omitempty"`
	Documents   []DocumentRef  `json:"documents,omitempty"`
}

func (r *Record) Base() *Record { return r }

// Detail is the tagged union of full records. Each kind has its own struct;
// callers switch on the concrete type instead of probing optional fields.
type Detail interface {
	Kind() Kind
	Base() *Record
	// HumanID is the identifier shown to people, e.g. "WO-2026-001".
	HumanID() string
	Priority() string
	Labels() []Label
}

type PartUsage struct {
	PartID   string  `json:"part_id"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
}

type WorkOrder struct {
	Record
	WONumber      string      `json:"wo_number"`
	PriorityLevel string      `json:"priority,omitempty"`
	AssigneeName  string      `json:"assignee_name,omitempty"`
	EquipmentName string      `json:"equipment_name,omitempty"`
	DueAt         *time.Time  `json:"due_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Parts         []PartUsage `json:"parts,omitempty"`
}

func (w *WorkOrder) Kind() Kind       { return KindWorkOrder }
func (w *WorkOrder) HumanID() string  { return w.WONumber }
func (w *WorkOrder) Priority() string { return w.PriorityLevel }
func (w *WorkOrder) Labels() []Label {
	labels := appendLabel(nil, "Equipment", w.EquipmentName)
	return appendLabel(labels, "Assignee", w.AssigneeName)
}

type Fault struct {
	Record
	FaultNumber   string     `json:"fault_number"`
	Severity      string     `json:"severity,omitempty"`
	EquipmentName string     `json:"equipment_name,omitempty"`
	ReportedBy    string     `json:"reported_by,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func (f *Fault) Kind() Kind       { return KindFault }
func (f *Fault) HumanID() string  { return f.FaultNumber }
func (f *Fault) Priority() string { return f.Severity }
func (f *Fault) Labels() []Label  { return appendLabel(nil, "Equipment", f.EquipmentName) }

type Equipment struct {
	Record
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Location     string  `json:"location,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Model        string  `json:"model,omitempty"`
	Criticality  string  `json:"criticality,omitempty"`
	RunningHours float64 `json:"running_hours,omitempty"`
	OpenFaults   int     `json:"open_faults"`
}

func (e *Equipment) Kind() Kind       { return KindEquipment }
func (e *Equipment) HumanID() string  { return firstNonBlank(e.Code, e.Name) }
func (e *Equipment) Priority() string { return e.Criticality }
func (e *Equipment) Labels() []Label  { return appendLabel(nil, "Location", e.Location) }

type Part struct {
	Record
	PartNumber    string  `json:"part_number"`
	Name          string  `json:"name"`
	StockQuantity float64 `json:"stock_quantity"`
	Unit          string  `json:"unit,omitempty"`
	Location      string  `json:"location,omitempty"`
	ReorderAt     float64 `json:"reorder_at"`
	Supplier      string  `json:"supplier,omitempty"`
}

func (p *Part) Kind() Kind       { return KindPart }
func (p *Part) HumanID() string  { return firstNonBlank(p.PartNumber, p.Name) }
func (p *Part) Priority() string { return "" }
func (p *Part) Labels() []Label  { return appendLabel(nil, "Location", p.Location) }

// LowStock reports whether stock has fallen to the reorder point.
func (p *Part) LowStock() bool {
	return p.ReorderAt > 0 && p.StockQuantity <= p.ReorderAt
}

type Warranty struct {
	Record
	ClaimNumber   string     `json:"claim_number"`
	Supplier      string     `json:"supplier,omitempty"`
	EquipmentName string     `json:"equipment_name,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ClaimCount    int        `json:"claim_count"`
}

func (w *Warranty) Kind() Kind       { return KindWarranty }
func (w *Warranty) HumanID() string  { return w.ClaimNumber }
func (w *Warranty) Priority() string { return "" }
func (w *Warranty) Labels() []Label  { return appendLabel(nil, "Equipment", w.EquipmentName) }

type HandoverItem struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

type Handover struct {
	Record
	HandoverNumber string         `json:"handover_number"`
	FromName       string         `json:"from_name,omitempty"`
	ToName         string         `json:"to_name,omitempty"`
	SignedAt       *time.Time     `json:"signed_at,omitempty"`
	Items          []HandoverItem `json:"items,omitempty"`
}

func (h *Handover) Kind() Kind       { return KindHandover }
func (h *Handover) HumanID() string  { return h.HandoverNumber }
func (h *Handover) Priority() string { return "" }
func (h *Handover) Labels() []Label {
	labels := appendLabel(nil, "From", h.FromName)
	return appendLabel(labels, "To", h.ToName)
}

type Thread struct {
	Record
	Subject       string     `json:"subject"`
	FromAddress   string     `json:"from_address,omitempty"`
	Participants  []string   `json:"participants,omitempty"`
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	LinkCount     int        `json:"link_count"`
}

func (t *Thread) Kind() Kind       { return KindThread }
func (t *Thread) HumanID() string  { return t.Subject }
func (t *Thread) Priority() string { return "" }
func (t *Thread) Labels() []Label  { return appendLabel(nil, "From", t.FromAddress) }

// New returns an empty detail for kind, ready to be decoded into.
func New(kind Kind) (Detail, error) {
	switch kind {
	case KindWorkOrder:
		return &WorkOrder{}, nil
	case KindFault:
		return &Fault{}, nil
	case KindEquipment:
		return &Equipment{}, nil
	case KindPart:
		return &Part{}, nil
	case KindWarranty:
		return &Warranty{}, nil
	case KindHandover:
		return &Handover{}, nil
	case KindThread:
		return &Thread{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedDetail, kind)
	}
}

// DecodeDetail turns a backend detail body into the typed record for kind.
// Bodies wrapped as {"data": {...}} are unwrapped first.
func DecodeDetail(kind Kind, raw []byte) (Detail, error) {
	detail, err := New(kind)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	body := raw
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		body = envelope.Data
	}

	if err := json.Unmarshal(body, detail); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDetail, err)
	}
	base := detail.Base()
	if strings.TrimSpace(base.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedDetail)
	}
	base.Status = strings.ToLower(strings.TrimSpace(base.Status))
	return detail, nil
}

// Summarize projects a detail down to its list shape.
func Summarize(d Detail) Summary {
	base := d.Base()
	title := base.Title
	switch v := d.(type) {
	case *Equipment:
		title = firstNonBlank(title, v.Name)
	case *Part:
		title = firstNonBlank(title, v.Name)
	case *Thread:
		title = firstNonBlank(title, v.Subject)
	}
	return Summary{
		ID:        base.ID,
		Kind:      d.Kind(),
		Number:    d.HumanID(),
		Title:     title,
		Status:    base.Status,
		Priority:  d.Priority(),
		Labels:    d.Labels(),
		CreatedAt: base.CreatedAt,
		UpdatedAt: base.UpdatedAt,
	}
}

// Flags are derived at render time and never stored.
type Flags struct {
	IsOverdue bool `json:"is_overdue"`
	DaysOpen  int  `json:"days_open"`
}

func ComputeFlags(d Detail, now time.Time) Flags {
	base := d.Base()
	if IsTerminal(d.Kind(), base.Status) {
		return Flags{}
	}
	var flags Flags
	if !base.CreatedAt.IsZero() && now.After(base.CreatedAt) {
		flags.DaysOpen = int(math.Floor(now.Sub(base.CreatedAt).Hours() / 24))
	}
	switch v := d.(type) {
	case *WorkOrder:
		flags.IsOverdue = v.DueAt != nil && now.After(*v.DueAt)
	case *Warranty:
		flags.IsOverdue = v.ExpiresAt != nil && now.After(*v.ExpiresAt)
	}
	return flags
}
