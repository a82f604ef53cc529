// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests IsAdmin, context propagation and tenant resolution

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthContext_IsAdmin(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  bool
	}{
		{name: "admin role", roles: []string{"admin"}, want: true},
		{name: "owner role", roles: []string{"owner"}, want: true},
		{name: "admin with other roles", roles: []string{"member", "admin"}, want: true},
		{name: "nil roles", roles: nil, want: false},
		{name: "member role only", roles: []string{"member"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &AuthContext{PrincipalID: "p", Roles: tt.roles}
			if got := a.IsAdmin(); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v for roles %v", got, tt.want, tt.roles)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}

	expected := &AuthContext{PrincipalID: "test-id", TenantID: "tenant-a"}
	got := FromContext(WithAuth(context.Background(), expected))
	if got != expected {
		t.Errorf("FromContext() = %v, want %v", got, expected)
	}
}

func TestTenantFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		auth   *AuthContext
		header string
		want   string
	}{
		{name: "default", want: DefaultTenant},
		{name: "header", header: "tenant-h", want: "tenant-h"},
		{name: "claim beats header", auth: &AuthContext{TenantID: "tenant-c"}, header: "tenant-h", want: "tenant-c"},
		{name: "claim without tenant", auth: &AuthContext{PrincipalID: "p"}, header: "tenant-h", want: "tenant-h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
			if tt.header != "" {
				r.Header.Set(TenantHeader, tt.header)
			}
			if tt.auth != nil {
				r = r.WithContext(WithAuth(r.Context(), tt.auth))
			}
			if got := TenantFromRequest(r); got != tt.want {
				t.Errorf("TenantFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperatorFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/approvals/x/decide", nil)
	if got := OperatorFromRequest(r, "ops"); got != "ops" {
		t.Errorf("OperatorFromRequest() = %q, want %q", got, "ops")
	}

	r = r.WithContext(WithAuth(r.Context(), &AuthContext{PrincipalID: "alice"}))
	if got := OperatorFromRequest(r, "ops"); got != "alice" {
		t.Errorf("OperatorFromRequest() = %q, want %q", got, "alice")
	}
}
