// Package entity holds the PMS record shapes shared by every lens: kinds, list
// summaries, the per-kind detail union and the descriptors that drive rendering.
package entity

import "strings"

type Kind string

const (
	KindWorkOrder Kind = "work_order"
	KindFault     Kind = "fault"
	KindEquipment Kind = "equipment"
	KindPart      Kind = "part"
	KindWarranty  Kind = "warranty"
	KindHandover  Kind = "handover"
	KindThread    Kind = "thread"
)

// Kinds lists every kind in navigation order.
var Kinds = []Kind{
	KindWorkOrder,
	KindFault,
	KindEquipment,
	KindPart,
	KindWarranty,
	KindHandover,
	KindThread,
}

func (k Kind) Valid() bool {
	_, ok := descriptors[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts either the canonical kind ("work_order") or a hyphenated
// spelling ("work-order").
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	if !normalized.Valid() {
		return "", false
	}
	return normalized, true
}

// KindForResource maps a navigable resource slug ("work-orders") to its kind.
func KindForResource(resource string) (Kind, bool) {
	for _, kind := range Kinds {
		if descriptors[kind].Resource == resource {
			return kind, true
		}
	}
	return "", false
}
