// Package auth authenticates HTTP API callers with HS256 JWTs.
//
// Tokens carry the caller in "sub", and optionally a "tenant_id" that scopes
// every agent, run and approval the caller sees, plus "roles". Deciding
// approvals requires the admin or owner role when authentication is on.
//
// When no jwt_secret is configured the gateway skips the middleware entirely
// and TenantFromRequest falls back to the X-Tenant-ID header, then to
// DefaultTenant.
package auth
