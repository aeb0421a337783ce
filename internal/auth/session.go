// Package auth reads the session input supplied by the external auth
// collaborator. Tokens are opaque to this service: they are forwarded to the
// backend as-is and never verified here.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"pmslens/api/internal/rbac"
)

const (
	TokenCookie = "pms_token"
	ScopeCookie = "pms_scope"
	ScopeHeader = "X-Scope-ID"
)

var ErrNoSession = errors.New("no session")

type Session struct {
	Token    string
	ScopeID  string
	UserID   string
	UserName string
	Role     rbac.Role
}

// Valid reports whether both required inputs are present.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.Token) != "" && strings.TrimSpace(s.ScopeID) != ""
}

// claims is the subset of the bearer payload used for display decisions.
type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// FromRequest collects the bearer token and scope from headers, query or
// cookies. A missing token or scope yields ErrNoSession alongside whatever
// partial session could be read.
func FromRequest(r *http.Request) (Session, error) {
	session := Session{
		Token:   bearerToken(r),
		ScopeID: strings.TrimSpace(r.Header.Get(ScopeHeader)),
	}
	if session.Token == "" {
		if cookie, err := r.Cookie(TokenCookie); err == nil {
			session.Token = strings.TrimSpace(cookie.Value)
		}
	}
	if session.ScopeID == "" {
		session.ScopeID = strings.TrimSpace(r.URL.Query().Get("scope_id"))
	}
	if session.ScopeID == "" {
		if cookie, err := r.Cookie(ScopeCookie); err == nil {
			session.ScopeID = strings.TrimSpace(cookie.Value)
		}
	}

	session.UserID, session.UserName, session.Role = identityFromToken(session.Token)
	if !session.Valid() {
		return session, ErrNoSession
	}
	return session, nil
}

// identityFromToken decodes the token payload without checking its
// signature. The role only controls which buttons are rendered; the backend
// enforces the real permission on every call.
func identityFromToken(token string) (string, string, rbac.Role) {
	if token == "" {
		return "", "", rbac.RoleViewer
	}
	var parsed claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &parsed); err != nil {
		return "", "", rbac.RoleViewer
	}
	return parsed.Subject, parsed.Name, rbac.Normalize(parsed.Role)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// HashToken fingerprints a token so it can be compared without being kept.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
