// Package rbac holds the static role table that decides which lens
// affordances a crew member is shown. It is a display concern only: the
// backend re-checks every action and is the authority.
package rbac

import (
	"strings"

	"pmslens/api/internal/entity"
)

type Role string

const (
	RoleCaptain       Role = "captain"
	RoleManager       Role = "manager"
	RoleChiefEngineer Role = "chief_engineer"
	RoleEngineer      Role = "engineer"
	RoleChiefOfficer  Role = "chief_officer"
	RoleCrew          Role = "crew"
	RoleViewer        Role = "viewer"
)

// Permissions is the per-kind flag set a lens uses to decide which controls
// exist. It is recomputed on every render and never stored.
type Permissions struct {
	CanView    bool `json:"canView"`
	CanAddNote bool `json:"canAddNote"`
	CanClose   bool `json:"canClose"`
	CanAssign  bool `json:"canAssign"`
	CanArchive bool `json:"canArchive"`
	CanApprove bool `json:"canApprove"`
}

type capabilitySet map[entity.Capability]bool

func caps(values ...entity.Capability) capabilitySet {
	set := capabilitySet{entity.CapView: true}
	for _, value := range values {
		set[value] = true
	}
	return set
}

var (
	everything = caps(entity.CapAddNote, entity.CapClose, entity.CapAssign, entity.CapArchive, entity.CapApprove)
	noteOnly   = caps(entity.CapAddNote)
	readOnly   = caps()
)

// table[role][kind]; a kind missing from a role's row falls back to the
// role's "*" row.
var table = map[Role]map[entity.Kind]capabilitySet{
	RoleCaptain: {"*": everything},
	RoleManager: {"*": everything},
	RoleChiefEngineer: {
		"*":                 everything,
		entity.KindHandover: caps(entity.CapAddNote, entity.CapApprove),
		entity.KindThread:   caps(entity.CapArchive),
		entity.KindWarranty: caps(entity.CapAddNote, entity.CapClose),
	},
	RoleEngineer: {
		"*":                  noteOnly,
		entity.KindWorkOrder: caps(entity.CapAddNote, entity.CapClose),
		entity.KindFault:     caps(entity.CapAddNote, entity.CapClose, entity.CapAssign),
		entity.KindThread:    readOnly,
	},
	RoleChiefOfficer: {
		"*":                  noteOnly,
		entity.KindWorkOrder: caps(entity.CapAddNote, entity.CapClose, entity.CapAssign),
		entity.KindHandover:  caps(entity.CapAddNote, entity.CapApprove),
		entity.KindThread:    caps(entity.CapArchive),
	},
	RoleCrew: {
		"*":                  readOnly,
		entity.KindFault:     noteOnly,
		entity.KindWorkOrder: noteOnly,
	},
	RoleViewer: {"*": readOnly},
}

// Can reports whether role is shown the capability on records of kind.
func Can(role Role, kind entity.Kind, capability entity.Capability) bool {
	row, ok := table[role]
	if !ok {
		return false
	}
	set, ok := row[kind]
	if !ok {
		set = row["*"]
	}
	return set[capability]
}

// For computes the permission flags for role on kind.
func For(role Role, kind entity.Kind) Permissions {
	return Permissions{
		CanView:    Can(role, kind, entity.CapView),
		CanAddNote: Can(role, kind, entity.CapAddNote),
		CanClose:   Can(role, kind, entity.CapClose),
		CanAssign:  Can(role, kind, entity.CapAssign),
		CanArchive: Can(role, kind, entity.CapArchive),
		CanApprove: Can(role, kind, entity.CapApprove),
	}
}

// Allows reports whether the flags include capability.
func (p Permissions) Allows(capability entity.Capability) bool {
	switch capability {
	case entity.CapView:
		return p.CanView
	case entity.CapAddNote:
		return p.CanAddNote
	case entity.CapClose:
		return p.CanClose
	case entity.CapAssign:
		return p.CanAssign
	case entity.CapArchive:
		return p.CanArchive
	case entity.CapApprove:
		return p.CanApprove
	default:
		return false
	}
}

// Normalize maps free-form role strings ("Chief Engineer", "CHIEF_ENGINEER")
// onto the table. Unknown roles become viewers.
func Normalize(role string) Role {
	normalized := Role(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(role)), " ", "_"))
	switch normalized {
	case RoleCaptain, RoleManager, RoleChiefEngineer, RoleEngineer, RoleChiefOfficer, RoleCrew, RoleViewer:
		return normalized
	case "eto", "second_engineer", "third_engineer":
		return RoleEngineer
	case "deckhand", "bosun", "steward", "stewardess":
		return RoleCrew
	default:
		return RoleViewer
	}
}
