package events

import "context"

// DefaultTenantID is attached to notifications when no tenant is in context.
const DefaultTenantID = "default"

type tenantKey struct{}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant carried by ctx, or fallback when there
// is none. An empty fallback means DefaultTenantID.
func TenantFromContext(ctx context.Context, fallback string) string {
	if id, ok := ctx.Value(tenantKey{}).(string); ok && id != "" {
		return id
	}
	if fallback == "" {
		return DefaultTenantID
	}
	return fallback
}
