package tenancy

import "context"

type ctxKey string

const (
	tenantKey     ctxKey = "clinic.tenant"
	tenantCodeKey ctxKey = "clinic.tenant_code"
)

// WithTenant stores the resolved tenant in context.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// TenantFromContext returns the resolved tenant if present.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantKey).(Tenant)
	return t, ok && t.Code != ""
}

// WithTenantCode records a tenant code claimed by an earlier layer (e.g. a JWT)
// before the tenant is resolved.
func WithTenantCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, tenantCodeKey, code)
}

// TenantCodeFromContext extracts a claimed tenant code if present.
func TenantCodeFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(tenantCodeKey)
	if val == nil {
		return "", false
	}
	code, ok := val.(string)
	return code, ok && code != ""
}
