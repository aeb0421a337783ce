package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"pmslens/api/internal/rbac"
)

func signedToken(t *testing.T, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"name": "Avery",
		"role": role,
	})
	signed, err := token.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestFromRequestHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/work-orders", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "Chief Engineer"))
	req.Header.Set(ScopeHeader, "Y1")

	session, err := FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest() error = %v", err)
	}
	if session.ScopeID != "Y1" || session.UserID != "user-1" || session.UserName != "Avery" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.Role != rbac.RoleChiefEngineer {
		t.Fatalf("Role = %q, want chief_engineer", session.Role)
	}
}

func TestFromRequestCookiesAndQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/faults?scope_id=Y2", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "opaque-token"})

	session, err := FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest() error = %v", err)
	}
	if session.Token != "opaque-token" || session.ScopeID != "Y2" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.Role != rbac.RoleViewer {
		t.Fatalf("opaque token should fall back to viewer, got %q", session.Role)
	}
}

func TestFromRequestMissingScope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/faults", nil)
	req.Header.Set("Authorization", "Bearer abc")

	_, err := FromRequest(req)
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
