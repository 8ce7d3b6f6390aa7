package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pratyushraj/noticebazaar-sub012/internal/auth"
)

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"admin"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"staff"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestPublicRouteTable(t *testing.T) {
	cases := []struct {
		method string
		path   string
		public bool
	}{
		{http.MethodGet, "/healthz", true},
		{http.MethodGet, "/readyz", true},
		{http.MethodGet, "/metrics", true},
		{http.MethodPost, "/v1/auth/token", true},
		{http.MethodGet, "/v1/tokens/some-secret", true},
		{http.MethodPost, "/v1/tokens/some-secret/verify-otp", true},
		{http.MethodDelete, "/v1/tokens/some-id", false},
		{http.MethodPost, "/v1/tokens", false},
		{http.MethodGet, "/v1/deals/d1/signatures", false},
		{http.MethodGet, "/v1/audit/d1", false},
		{http.MethodGet, "/v1/events", false},
	}
	for _, tc := range cases {
		if got := isPublicRoute(tc.method, tc.path); got != tc.public {
			t.Errorf("isPublicRoute(%s %s) = %v, want %v", tc.method, tc.path, got, tc.public)
		}
	}
}
