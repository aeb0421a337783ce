// Package routing converts between a selection and its navigable address.
// Selection is a pure function of the address: nothing outside the address
// remembers what is selected.
package routing

import (
	"net/http"
	"net/url"
	"strings"

	"pmslens/api/internal/entity"
)

// LegacyPath is the flat address kept only as a redirect target.
const LegacyPath = "/app"

// Flags is the read-only view of the route feature flag.
type Flags struct {
	// LensRoutes enables the nested /{resource}/{id} shape.
	LensRoutes bool
}

// RedirectStatus is used for every legacy redirect.
const RedirectStatus = http.StatusPermanentRedirect

type Selection struct {
	Kind   entity.Kind `json:"kind"`
	ID     string      `json:"id,omitempty"`
	Filter string      `json:"filter,omitempty"`
}

// Valid reports whether the selection names a known kind.
func (s Selection) Valid() bool {
	return s.Kind.Valid()
}

// Encode renders a selection as an address. With lens routes on a selected
// record lives at /{resource}/{id}; otherwise it is a query parameter on the
// list address.
func Encode(sel Selection, flags Flags) string {
	resource := entity.Describe(sel.Kind).Resource
	query := url.Values{}
	if sel.Filter != "" {
		query.Set("filter", sel.Filter)
	}

	path := "/" + resource
	if sel.ID != "" {
		if flags.LensRoutes {
			path += "/" + url.PathEscape(sel.ID)
		} else {
			query.Set("id", sel.ID)
		}
	}
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

// ListAddress is the address of an unfiltered list.
func ListAddress(kind entity.Kind) string {
	return Encode(Selection{Kind: kind}, Flags{})
}

// Decode reads a selection from any supported address shape: the list,
// the list with ?id=, the nested path, and the legacy /app address.
func Decode(address string) (Selection, bool) {
	u, err := url.Parse(address)
	if err != nil {
		return Selection{}, false
	}
	return DecodeURL(u)
}

func DecodeURL(u *url.URL) (Selection, bool) {
	query := u.Query()
	segments := splitPath(u)

	if len(segments) == 1 && "/"+segments[0] == LegacyPath {
		kind, ok := entity.ParseKind(query.Get("entity"))
		if !ok {
			return Selection{}, false
		}
		return Selection{Kind: kind, ID: query.Get("id"), Filter: query.Get("filter")}, true
	}

	if len(segments) == 0 || len(segments) > 2 {
		return Selection{}, false
	}
	kind, ok := entity.KindForResource(segments[0])
	if !ok {
		return Selection{}, false
	}
	sel := Selection{Kind: kind, ID: query.Get("id"), Filter: query.Get("filter")}
	if len(segments) == 2 {
		sel.ID = segments[1]
	}
	return sel, true
}

// LegacyAddress is the /app address for a selection.
func LegacyAddress(sel Selection) string {
	query := url.Values{}
	query.Set("entity", string(sel.Kind))
	if sel.ID != "" {
		query.Set("id", sel.ID)
	}
	if sel.Filter != "" {
		query.Set("filter", sel.Filter)
	}
	return LegacyPath + "?" + query.Encode()
}

// LegacyRedirect returns the legacy target for a nested record address when
// lens routes are off. Focus parameters are carried over as legacy query
// parameters.
func LegacyRedirect(u *url.URL, flags Flags) (string, bool) {
	if flags.LensRoutes || len(splitPath(u)) != 2 {
		return "", false
	}
	sel, ok := DecodeURL(u)
	if !ok || sel.ID == "" {
		return "", false
	}
	return LegacyAddress(sel), true
}

// Canonical is the address a selection should be served under. It differs
// from the request address when a legacy or alternate shape was used.
func Canonical(sel Selection, flags Flags) string {
	return Encode(sel, flags)
}

func splitPath(u *url.URL) []string {
	path := u.EscapedPath()
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(part); err == nil {
			part = unescaped
		}
		out = append(out, part)
	}
	return out
}
