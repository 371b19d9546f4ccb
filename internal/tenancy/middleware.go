package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/endovel/clinic-platform/pkg/logging"
)

// TenantHeader selects the tenant explicitly.
const TenantHeader = "X-Tenant-Id"

// Resolver looks up a tenant by code.
type Resolver interface {
	Resolve(ctx context.Context, code string) (Tenant, error)
}

// Middleware resolves the tenant for a request from the X-Tenant-Id header, a
// tenant claim placed in context by the auth layer, or the leftmost subdomain,
// in that order. A header that contradicts the claim is rejected.
func Middleware(resolver Resolver, logger *logging.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenancy: resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed, hasClaim := TenantCodeFromContext(r.Context())
			code := strings.TrimSpace(r.Header.Get(TenantHeader))
			if code != "" && hasClaim && code != claimed {
				writeError(w, http.StatusForbidden, "Tenant does not match credentials")
				return
			}
			if code == "" && hasClaim {
				code = claimed
			}
			if code == "" {
				code = subdomain(r.Host)
			}
			if code == "" {
				writeError(w, http.StatusBadRequest, "Tenant not specified (set X-Tenant-Id header or use subdomain).")
				return
			}

			tenant, err := resolver.Resolve(r.Context(), code)
			if err != nil {
				if errors.Is(err, ErrTenantNotFound) {
					writeError(w, http.StatusNotFound, "Tenant not found")
					return
				}
				logger.Error("tenant resolution failed", "error", err, "tenant", code)
				writeError(w, http.StatusInternalServerError, "Tenant resolution failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
		})
	}
}

// subdomain returns the first label of hosts with at least three labels.
func subdomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	parts := strings.Split(host, ".")
	if len(parts) > 2 && parts[0] != "" {
		return strings.ToLower(parts[0])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
