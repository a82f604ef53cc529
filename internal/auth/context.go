// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext and tenant resolution for HTTP requests

package auth

import (
	"context"
	"net/http"
)

// DefaultTenant is used when neither a token nor a header names a tenant.
const DefaultTenant = "tenant-default"

// TenantHeader lets unauthenticated deployments pick a tenant per request.
const TenantHeader = "X-Tenant-ID"

// Roles that may decide approvals.
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	PrincipalID string
	TenantID    string
	Roles       []string
}

// IsAdmin returns true if the principal has admin or owner role.
func (a *AuthContext) IsAdmin() bool {
	for _, r := range a.Roles {
		if r == RoleAdmin || r == RoleOwner {
			return true
		}
	}
	return false
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// TenantFromRequest resolves the tenant of a request: the token's tenant
// claim, else the X-Tenant-ID header, else DefaultTenant.
func TenantFromRequest(r *http.Request) string {
	if a := FromContext(r.Context()); a != nil && a.TenantID != "" {
		return a.TenantID
	}
	if h := r.Header.Get(TenantHeader); h != "" {
		return h
	}
	return DefaultTenant
}

// OperatorFromRequest names who is acting: the token subject, else fallback.
func OperatorFromRequest(r *http.Request, fallback string) string {
	if a := FromContext(r.Context()); a != nil && a.PrincipalID != "" {
		return a.PrincipalID
	}
	return fallback
}
