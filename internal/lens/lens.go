// Package lens builds the detail view model for one record: header, the
// five vital signs, description, independently stated sections and the
// role-gated affordances. Failed loads become one of four terminal states.
package lens

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pmslens/api/internal/backend"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/rbac"
	"pmslens/api/internal/routing"
)

type State string

const (
	StateLoading         State = "loading"
	StateReady           State = "ready"
	StateNotFound        State = "not_found"
	StateForbidden       State = "forbidden"
	StateUnauthenticated State = "unauthenticated"
	StateError           State = "error"
)

// SectionState is tracked per section so one failing block never blanks the
// rest of the lens.
type SectionState string

const (
	SectionReady SectionState = "ready"
	SectionEmpty SectionState = "empty"
	SectionError SectionState = "error"
)

type Header struct {
	Kind       entity.Kind    `json:"kind"`
	KindLabel  string         `json:"kind_label"`
	Icon       string         `json:"icon"`
	Identifier string         `json:"identifier"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status"`
	StatusText string         `json:"status_text"`
	Priority   string         `json:"priority,omitempty"`
	Labels     []entity.Label `json:"labels,omitempty"`
}

type Item struct {
	Title    string     `json:"title"`
	Subtitle string     `json:"subtitle,omitempty"`
	Body     string     `json:"body,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Href     string     `json:"href,omitempty"`
}

type Section struct {
	Key     entity.Section `json:"key"`
	Title   string         `json:"title"`
	State   SectionState   `json:"state"`
	Items   []Item         `json:"items,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Affordance is a mutation control the role may see.
type Affordance struct {
	Capability entity.Capability `json:"capability"`
	Action     string            `json:"action"`
	Label      string            `json:"label"`
	Href       string            `json:"href"`
	Disabled   bool              `json:"disabled,omitempty"`
}

// Action is a navigation or retry control on a failure state.
type Action struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

type Lens struct {
	State       State          `json:"state"`
	Kind        entity.Kind    `json:"kind"`
	Title       string         `json:"title"`
	Address     string         `json:"address"`
	Header      *Header        `json:"header,omitempty"`
	Vitals      []entity.Vital `json:"vitals,omitempty"`
	Description string         `json:"description,omitempty"`
	Flags       *entity.Flags  `json:"flags,omitempty"`
	Sections    []Section      `json:"sections,omitempty"`
	Affordances []Affordance   `json:"affordances,omitempty"`
	Message     string         `json:"message,omitempty"`
	Actions     []Action       `json:"actions,omitempty"`
}

// Presigner turns a stored attachment into a short-lived download URL.
type Presigner interface {
	PresignAttachment(ctx context.Context, attachment entity.Attachment) (string, error)
}

type Options struct {
	Now    time.Time
	Flags  routing.Flags
	Filter string
	// Pending reports whether an action on this record is in flight.
	Pending   func(action string) bool
	Presigner Presigner
}

// Build renders a loaded detail.
func Build(ctx context.Context, detail entity.Detail, perms rbac.Permissions, opts Options) Lens {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	kind := detail.Kind()
	desc := entity.Describe(kind)
	base := detail.Base()
	flags := entity.ComputeFlags(detail, opts.Now)
	sel := routing.Selection{Kind: kind, ID: base.ID, Filter: opts.Filter}

	header := buildHeader(detail, desc)
	vitals := desc.Vitals(detail, opts.Now)

	return Lens{
		State:       StateReady,
		Kind:        kind,
		Title:       header.Identifier,
		Address:     routing.Encode(sel, opts.Flags),
		Header:      &header,
		Vitals:      vitals[:],
		Description: strings.TrimSpace(base.Description),
		Flags:       &flags,
		Sections:    buildSections(ctx, desc, base, opts.Presigner),
		Affordances: buildAffordances(desc, base, perms, opts.Pending),
	}
}

// buildHeader never lets the internal id reach header text.
func buildHeader(detail entity.Detail, desc entity.Descriptor) Header {
	base := detail.Base()
	identifier := strings.TrimSpace(detail.HumanID())
	if identifier == "" || identifier == base.ID {
		identifier = desc.Label + " (unnumbered)"
	}
	title := strings.TrimSpace(base.Title)
	if title == base.ID || title == identifier {
		title = ""
	}
	return Header{
		Kind:       desc.Kind,
		KindLabel:  desc.Label,
		Icon:       desc.Icon,
		Identifier: identifier,
		Title:      title,
		Status:     base.Status,
		StatusText: entity.Humanize(base.Status),
		Priority:   detail.Priority(),
		Labels:     detail.Labels(),
	}
}

func buildAffordances(desc entity.Descriptor, base *entity.Record, perms rbac.Permissions, pending func(string) bool) []Affordance {
	terminal := entity.IsTerminal(desc.Kind, base.Status)
	out := make([]Affordance, 0, len(desc.Affordances))
	for _, a := range desc.Affordances {
		if !perms.Allows(a.Capability) {
			continue
		}
		if a.HideWhenTerminal && terminal {
			continue
		}
		out = append(out, Affordance{
			Capability: a.Capability,
			Action:     a.Action,
			Label:      a.Label,
			Href:       ActionHref(desc.Kind, base.ID, a.Action),
			Disabled:   pending != nil && pending(a.Action),
		})
	}
	return out
}

// ActionHref is the dispatch endpoint for an action on a record.
func ActionHref(kind entity.Kind, id, action string) string {
	return "/" + entity.Describe(kind).Resource + "/" + url.PathEscape(id) + "/actions/" + url.PathEscape(action)
}

func buildSections(ctx context.Context, desc entity.Descriptor, base *entity.Record, presigner Presigner) []Section {
	sections := make([]Section, len(desc.Sections))
	g, ctx := errgroup.WithContext(ctx)
	for i, key := range desc.Sections {
		sections[i] = Section{Key: key, Title: key.Title()}
		g.Go(func() error {
			items, err := sectionItems(ctx, key, base, presigner)
			switch {
			case err != nil:
				slog.Warn("lens: section failed", "section", key, "kind", desc.Kind, "error", err)
				sections[i].State = SectionError
				sections[i].Message = fmt.Sprintf("%s could not be loaded.", key.Title())
			case len(items) == 0:
				sections[i].State = SectionEmpty
				sections[i].Message = "No " + strings.ToLower(key.Title()) + " yet."
			default:
				sections[i].State = SectionReady
				sections[i].Items = items
			}
			return nil
		})
	}
	_ = g.Wait()
	return sections
}

func sectionItems(ctx context.Context, key entity.Section, base *entity.Record, presigner Presigner) ([]Item, error) {
	switch key {
	case entity.SectionNotes:
		items := make([]Item, 0, len(base.Notes))
		for _, note := range base.Notes {
			items = append(items, Item{Title: note.Author, Body: note.Text, At: timePtr(note.CreatedAt)})
		}
		return items, nil
	case entity.SectionHistory:
		items := make([]Item, 0, len(base.History))
		for _, entry := range base.History {
			item := Item{Title: entity.Humanize(entry.Action), Subtitle: entry.Actor, At: timePtr(entry.At)}
			if entry.From != "" || entry.To != "" {
				item.Body = entity.Humanize(entry.From) + " → " + entity.Humanize(entry.To)
			}
			items = append(items, item)
		}
		return items, nil
	case entity.SectionAttachments:
		return attachmentItems(ctx, base.Attachments, presigner)
	case entity.SectionLinkedEquipment:
		items := make([]Item, 0, len(base.Equipment))
		for _, ref := range base.Equipment {
			items = append(items, Item{
				Title:    firstNonBlank(ref.Name, ref.Code, "Equipment"),
				Subtitle: entity.Humanize(ref.Status),
				Href:     routing.ListAddress(entity.KindEquipment) + "?id=" + url.QueryEscape(ref.ID),
			})
		}
		return items, nil
	case entity.SectionDocuments:
		items := make([]Item, 0, len(base.Documents))
		for _, doc := range base.Documents {
			items = append(items, Item{Title: firstNonBlank(doc.Title, "Document"), Subtitle: entity.Humanize(doc.Type), Href: doc.URL})
		}
		return items, nil
	}
	return nil, nil
}

func attachmentItems(ctx context.Context, attachments []entity.Attachment, presigner Presigner) ([]Item, error) {
	items := make([]Item, len(attachments))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, a := range attachments {
		items[i] = Item{Title: firstNonBlank(a.Name, "Attachment"), Subtitle: a.MimeType}
		if presigner == nil || a.StoragePath == "" {
			continue
		}
		g.Go(func() error {
			href, err := presigner.PresignAttachment(ctx, a)
			if err != nil {
				return fmt.Errorf("presign %s: %w", a.Name, err)
			}
			items[i].Href = href
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// Failure renders a failed load. The state follows the classified status
// only: not found offers the way back to the list, a transient failure
// offers a retry of the same lens address.
func Failure(sel routing.Selection, err error, flags routing.Flags) Lens {
	desc := entity.Describe(sel.Kind)
	address := routing.Encode(sel, flags)
	lens := Lens{Kind: sel.Kind, Address: address}

	switch backend.Classify(err) {
	case backend.ClassNotFound:
		lens.State = StateNotFound
		lens.Title = desc.Label + " Not Found"
		lens.Message = fmt.Sprintf("This %s does not exist or was removed.", strings.ToLower(desc.Label))
		lens.Actions = []Action{{Label: "Back to " + desc.Plural, Href: routing.ListAddress(sel.Kind)}}
	case backend.ClassForbidden:
		lens.State = StateForbidden
		lens.Title = "Not Permitted"
		lens.Message = fmt.Sprintf("You do not have permission to view this %s.", strings.ToLower(desc.Label))
	case backend.ClassUnauthenticated:
		lens.State = StateUnauthenticated
		lens.Title = "Please sign in"
		lens.Message = "Your session has ended. Sign in again to continue."
	default:
		lens.State = StateError
		lens.Title = "Something went wrong"
		lens.Message = fmt.Sprintf("This %s could not be loaded.", strings.ToLower(desc.Label))
		lens.Actions = []Action{{Label: "Retry", Href: address}}
	}
	return lens
}

// Loading is the placeholder while the first response for a selection is
// outstanding.
func Loading(sel routing.Selection, flags routing.Flags) Lens {
	return Lens{State: StateLoading, Kind: sel.Kind, Title: "Loading…", Address: routing.Encode(sel, flags)}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
