package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Capability names a mutation a role may be shown an affordance for.
type Capability string

const (
	CapView    Capability = "view"
	CapAddNote Capability = "add_note"
	CapClose   Capability = "close"
	CapAssign  Capability = "assign"
	CapArchive Capability = "archive"
	CapApprove Capability = "approve"
)

// Section names one independently loaded block of a lens.
type Section string

const (
	SectionNotes           Section = "notes"
	SectionHistory         Section = "history"
	SectionAttachments     Section = "attachments"
	SectionLinkedEquipment Section = "linked_equipment"
	SectionDocuments       Section = "documents"
)

var sectionTitles = map[Section]string{
	SectionNotes:           "Notes",
	SectionHistory:         "History",
	SectionAttachments:     "Attachments",
	SectionLinkedEquipment: "Linked Equipment",
	SectionDocuments:       "Documents",
}

func (s Section) Title() string { return sectionTitles[s] }

// Affordance binds a capability to the backend action it dispatches.
type Affordance struct {
	Capability Capability
	Action     string
	Label      string
	// HideWhenTerminal removes the affordance once the record reaches a
	// terminal status.
	HideWhenTerminal bool
}

// Vital is one cell of the fixed five-cell vital-signs row.
type Vital struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Tone  string `json:"tone,omitempty"`
}

const VitalCount = 5

// Descriptor parametrizes the list, lens and permission behaviour for a kind.
type Descriptor struct {
	Kind            Kind
	Resource        string
	BackendResource string
	Label           string
	Plural          string
	Icon            string
	Terminal        []string
	StatusOrder     []string
	Sections        []Section
	Affordances     []Affordance
}

// Vitals returns the five vital-sign cells for detail.
func (d Descriptor) Vitals(detail Detail, now time.Time) [VitalCount]Vital {
	switch detail.(type) {
	case *WorkOrder:
		return workOrderVitals(detail, now)
	case *Fault:
		return faultVitals(detail, now)
	case *Equipment:
		return equipmentVitals(detail, now)
	case *Part:
		return partVitals(detail, now)
	case *Warranty:
		return warrantyVitals(detail, now)
	case *Handover:
		return handoverVitals(detail, now)
	case *Thread:
		return threadVitals(detail, now)
	default:
		return genericVitals(detail, now)
	}
}

// Describe returns the descriptor for kind. Unknown kinds get a generic
// descriptor so rendering code never has to nil-check.
func Describe(kind Kind) Descriptor {
	if d, ok := descriptors[kind]; ok {
		return d
	}
	return Descriptor{Kind: kind, Label: "Record", Plural: "Records", Icon: "file"}
}

// IsTerminal reports whether status ends the record's lifecycle for kind.
func IsTerminal(kind Kind, status string) bool {
	status = strings.ToLower(strings.TrimSpace(status))
	for _, terminal := range Describe(kind).Terminal {
		if terminal == status {
			return true
		}
	}
	return false
}

var allSections = []Section{SectionNotes, SectionHistory, SectionAttachments, SectionLinkedEquipment, SectionDocuments}

var descriptors = map[Kind]Descriptor{
	KindWorkOrder: {
		Kind:            KindWorkOrder,
		Resource:        "work-orders",
		BackendResource: "work_orders",
		Label:           "Work Order",
		Plural:          "Work Orders",
		Icon:            "wrench",
		Terminal:        []string{"completed", "closed", "cancelled"},
		StatusOrder:     []string{"open", "planned", "in_progress", "on_hold", "completed", "closed", "cancelled"},
		Sections:        allSections,
		Affordances: []Affordance{
			{Capability: CapAddNote, Action: "add_wo_note", Label: "Add Note"},
			{Capability: CapAssign, Action: "assign_work_order", Label: "Assign", HideWhenTerminal: true},
			{Capability: CapClose, Action: "mark_work_order_complete", Label: "Mark Complete", HideWhenTerminal: true},
			{Capability: CapArchive, Action: "archive_work_order", Label: "Archive"},
		},
	},
	KindFault: {
		Kind:            KindFault,
		Resource:        "faults",
		BackendResource: "faults",
		Label:           "Fault",
		Plural:          "Faults",
		Icon:            "alert-triangle",
		Terminal:        []string{"resolved", "closed"},
		StatusOrder:     []string{"open", "investigating", "work_ordered", "resolved", "closed"},
		Sections:        allSections,
		Affordances: []Affordance{
			{Capability: CapAddNote, Action: "add_fault_note", Label: "Add Note"},
			{Capability: CapAssign, Action: "create_work_order_from_fault", Label: "Create Work Order", HideWhenTerminal: true},
			{Capability: CapClose, Action: "resolve_fault", Label: "Resolve Fault", HideWhenTerminal: true},
			{Capability: CapArchive, Action: "archive_fault", Label: "Archive"},
		},
	},
	KindEquipment: {
		Kind:            KindEquipment,
		Resource:        "equipment",
		BackendResource: "equipment",
		Label:           "Equipment",
		Plural:          "Equipment",
		Icon:            "cog",
		Terminal:        []string{"decommissioned"},
		StatusOrder:     []string{"operational", "degraded", "failed", "maintenance", "decommissioned"},
		Sections:        []Section{SectionNotes, SectionHistory, SectionAttachments, SectionDocuments},
		Affordances: []Affordance{
			{Capability: CapAddNote, Action: "add_equipment_note", Label: "Add Note"},
			{Capability: CapClose, Action: "decommission_equipment", Label: "Decommission", HideWhenTerminal: true},
		},
	},
	KindPart: {
		Kind:            KindPart,
		Resource:        "parts",
		BackendResource: "parts",
		Label:           "Part",
		Plural:          "Parts",
		Icon:            "package",
		Terminal:        []string{"discontinued"},
		StatusOrder:     []string{"in_stock", "low_stock", "out_of_stock", "discontinued"},
		Sections:        []Section{SectionNotes, SectionHistory, SectionLinkedEquipment, SectionDocuments},
		Affordances: []Affordance{
			{Capability: CapAddNote, Action: "add_part_note", Label: "Add Note"},
			{Capability: CapArchive, Action: "archive_part", Label: "Archive"},
		},
	},
	KindWarranty: {
		Kind:            KindWarranty,
		Resource:        "warranties",
		BackendResource: "warranties",
		Label:           "Warranty Claim",
		Plural:          "Warranties",
		Icon:            "shield",
		Terminal:        []string{"approved", "rejected", "closed"},
		StatusOrder:     []string{"draft", "submitted", "under_review", "approved", "rejected", "closed"},
		Sections:        []Section{SectionNotes, SectionHistory, SectionAttachments, SectionLinkedEquipment, SectionDocuments},
		Affordances: []Affordance{
			{Capability: CapAddNote, Action: "add_warranty_note", Label: "Add Note"},
			{Capability: CapApprove, Action: "approve_warranty_claim", Label: "Approve", HideWhenTerminal: true},
			{Capability: CapClose, Action: "close_warranty_claim", Label: "Close Claim", HideWhenTerminal: true},
		},
	},
	KindHandover: {
		Kind:            KindHandover,
		Resource:        "handovers",
		BackendResource: "handovers",
		Label:           "Handover",
		Plural:          "Handovers",
		Icon:            "clipboard",
		Terminal:        []string{"signed", "archived"},
		StatusOrder:     []string{"draft", "pending_signature", "signed", "archived"},
		Sections:        []Section{SectionNotes, SectionHistory, SectionAttachments, SectionDocuments},
		Affordances: []Affordance{
			{Capability: CapAddNote, Action: "add_handover_note", Label: "Add Note"},
			{Capability: CapApprove, Action: "sign_handover", Label: "Sign Handover", HideWhenTerminal: true},
			{Capability: CapArchive, Action: "archive_handover", Label: "Archive"},
		},
	},
	KindThread: {
		Kind:            KindThread,
		Resource:        "email",
		BackendResource: "email/threads",
		Label:           "Email Thread",
		Plural:          "Email",
		Icon:            "mail",
		Terminal:        []string{"archived"},
		StatusOrder:     []string{"unread", "read", "archived"},
		Sections:        []Section{SectionAttachments, SectionLinkedEquipment, SectionHistory},
		Affordances: []Affordance{
			{Capability: CapArchive, Action: "archive_thread", Label: "Archive", HideWhenTerminal: true},
		},
	},
}

func workOrderVitals(d Detail, now time.Time) [VitalCount]Vital {
	wo := d.(*WorkOrder)
	flags := ComputeFlags(d, now)
	created := Vital{Label: "Created", Value: formatDate(wo.CreatedAt)}
	if flags.IsOverdue {
		created.Tone = "critical"
	}
	return [VitalCount]Vital{
		statusVital(wo.Status),
		{Label: "Priority", Value: orDash(humanize(wo.PriorityLevel)), Tone: priorityTone(wo.PriorityLevel)},
		{Label: "Parts", Value: strconv.Itoa(len(wo.Parts))},
		created,
		{Label: "Equipment", Value: orDash(wo.EquipmentName)},
	}
}

func faultVitals(d Detail, now time.Time) [VitalCount]Vital {
	f := d.(*Fault)
	flags := ComputeFlags(d, now)
	return [VitalCount]Vital{
		statusVital(f.Status),
		{Label: "Severity", Value: orDash(humanize(f.Severity)), Tone: priorityTone(f.Severity)},
		{Label: "Equipment", Value: orDash(f.EquipmentName)},
		{Label: "Reported", Value: formatDate(f.CreatedAt)},
		{Label: "Days Open", Value: strconv.Itoa(flags.DaysOpen)},
	}
}

func equipmentVitals(d Detail, _ time.Time) [VitalCount]Vital {
	e := d.(*Equipment)
	faults := Vital{Label: "Open Faults", Value: strconv.Itoa(e.OpenFaults)}
	if e.OpenFaults > 0 {
		faults.Tone = "warning"
	}
	return [VitalCount]Vital{
		statusVital(e.Status),
		{Label: "Location", Value: orDash(e.Location)},
		{Label: "Manufacturer", Value: orDash(strings.TrimSpace(e.Manufacturer + " " + e.Model))},
		{Label: "Running Hours", Value: formatQuantity(e.RunningHours)},
		faults,
	}
}

func partVitals(d Detail, _ time.Time) [VitalCount]Vital {
	p := d.(*Part)
	stock := Vital{Label: "Stock", Value: formatQuantity(p.StockQuantity)}
	if p.LowStock() {
		stock.Tone = "warning"
	}
	return [VitalCount]Vital{
		stock,
		{Label: "Location", Value: orDash(p.Location)},
		{Label: "Unit", Value: orDash(p.Unit)},
		{Label: "Reorder At", Value: formatQuantity(p.ReorderAt)},
		{Label: "Supplier", Value: orDash(p.Supplier)},
	}
}

func warrantyVitals(d Detail, now time.Time) [VitalCount]Vital {
	w := d.(*Warranty)
	expires := Vital{Label: "Expires", Value: "—"}
	if w.ExpiresAt != nil {
		expires.Value = formatDate(*w.ExpiresAt)
		if ComputeFlags(d, now).IsOverdue {
			expires.Tone = "critical"
		}
	}
	return [VitalCount]Vital{
		statusVital(w.Status),
		{Label: "Supplier", Value: orDash(w.Supplier)},
		{Label: "Equipment", Value: orDash(w.EquipmentName)},
		expires,
		{Label: "Claims", Value: strconv.Itoa(w.ClaimCount)},
	}
}

func handoverVitals(d Detail, _ time.Time) [VitalCount]Vital {
	h := d.(*Handover)
	return [VitalCount]Vital{
		statusVital(h.Status),
		{Label: "From", Value: orDash(h.FromName)},
		{Label: "To", Value: orDash(h.ToName)},
		{Label: "Created", Value: formatDate(h.CreatedAt)},
		{Label: "Items", Value: strconv.Itoa(len(h.Items))},
	}
}

func threadVitals(d Detail, _ time.Time) [VitalCount]Vital {
	t := d.(*Thread)
	last := Vital{Label: "Last Activity", Value: "—"}
	if t.LastMessageAt != nil {
		last.Value = formatDate(*t.LastMessageAt)
	}
	return [VitalCount]Vital{
		{Label: "From", Value: orDash(t.FromAddress)},
		{Label: "Participants", Value: strconv.Itoa(len(t.Participants))},
		{Label: "Messages", Value: strconv.Itoa(t.MessageCount)},
		last,
		{Label: "Links", Value: strconv.Itoa(t.LinkCount)},
	}
}

func genericVitals(d Detail, _ time.Time) [VitalCount]Vital {
	base := d.Base()
	return [VitalCount]Vital{
		statusVital(base.Status),
		{Label: "Priority", Value: orDash(humanize(d.Priority()))},
		{Label: "Notes", Value: strconv.Itoa(len(base.Notes))},
		{Label: "Created", Value: formatDate(base.CreatedAt)},
		{Label: "Updated", Value: formatDate(base.UpdatedAt)},
	}
}

func statusVital(status string) Vital {
	return Vital{Label: "Status", Value: orDash(humanize(status)), Tone: statusTone(status)}
}

func statusTone(status string) string {
	switch status {
	case "failed", "out_of_stock", "rejected":
		return "critical"
	case "open", "degraded", "low_stock", "on_hold", "pending_signature":
		return "warning"
	case "completed", "resolved", "closed", "signed", "approved", "operational", "in_stock":
		return "ok"
	default:
		return ""
	}
}

func priorityTone(priority string) string {
	switch strings.ToLower(priority) {
	case "critical", "emergency", "high":
		return "critical"
	case "medium", "important":
		return "warning"
	default:
		return ""
	}
}

// humanize turns "in_progress" into "In Progress".
func humanize(value string) string {
	words := strings.Fields(strings.ReplaceAll(strings.TrimSpace(value), "_", " "))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}

// Humanize is exported for templates and list rows.
func Humanize(value string) string { return humanize(value) }

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Format("02 Jan 2006")
}

func formatQuantity(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return fmt.Sprintf("%.1f", value)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "—"
	}
	return value
}
