// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation and the admin gate

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		errText string
	}{
		{header: "", errText: "missing authorization header"},
		{header: "Basic abc", errText: "invalid authorization header format"},
		{header: "Bearer ", errText: "empty token"},
		{header: "Bearer abc", token: "abc"},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		if token != tt.token || errMsg != tt.errText {
			t.Errorf("extractBearerToken(%q) = (%q, %q), want (%q, %q)", tt.header, token, errMsg, tt.token, tt.errText)
		}
	}
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate(Claims{Subject: "user-123", TenantID: "tenant-a", Roles: []string{"member"}}, time.Hour)

	var gotAuthCtx *AuthContext
	var gotTenant string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		gotTenant = TenantFromRequest(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(TenantHeader, "tenant-spoofed")
	rec := httptest.NewRecorder()

	HTTPAuthMiddleware(verifier, nil)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil || gotAuthCtx.PrincipalID != "user-123" {
		t.Fatalf("AuthContext = %+v, want principal user-123", gotAuthCtx)
	}
	if gotTenant != "tenant-a" {
		t.Errorf("tenant = %q, want %q", gotTenant, "tenant-a")
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, _ := verifier.Generate(Claims{Subject: "user-123"}, -time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Token abc"},
		{name: "invalid token", header: "Bearer invalid-token"},
		{name: "expired token", header: "Bearer " + expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			})
			req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			HTTPAuthMiddleware(verifier, nil)(handler).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireAdminHTTP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name string
		auth *AuthContext
		want int
	}{
		{name: "unauthenticated", want: http.StatusUnauthorized},
		{name: "member", auth: &AuthContext{PrincipalID: "m", Roles: []string{"member"}}, want: http.StatusForbidden},
		{name: "admin", auth: &AuthContext{PrincipalID: "a", Roles: []string{"admin"}}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/approvals/x/decide", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec := httptest.NewRecorder()
			RequireAdminHTTP()(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
