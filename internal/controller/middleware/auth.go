// Package middleware contains HTTP middleware for the engine's API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"optiplane/internal/audit"
	"optiplane/internal/auth"
	"optiplane/internal/store"
	"optiplane/pkg/api"
)

// tenantKey is the context key for the authenticated tenant.
type tenantKey struct{}

// TenantResolver looks up tenants by their API key hash.
type TenantResolver interface {
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*store.Tenant, error)
}

// SecurityRecorder receives access events for the security audit
// trail. Nil disables recording.
type SecurityRecorder interface {
	RecordAccess(ctx context.Context, ev audit.AccessEvent) (*store.SecurityEvent, error)
}

// AuthMiddleware resolves the Bearer API key to a tenant and stores it
// in the request context. Denied attempts are recorded as security
// events.
func AuthMiddleware(s TenantResolver, security SecurityRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, r, security, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				deny(w, r, security, "invalid authorization header")
				return
			}

			hashed := auth.HashKey(parts[1])
			tenant, err := s.GetTenantByAPIKeyHash(r.Context(), hashed)
			if err != nil {
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if tenant == nil {
				deny(w, r, security, "unknown api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithTenant(r.Context(), tenant)))
		})
	}
}

// ContextWithTenant returns a context carrying the authenticated
// tenant.
func ContextWithTenant(ctx context.Context, tenant *store.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext extracts the authenticated tenant from the context.
func TenantFromContext(ctx context.Context) (*store.Tenant, bool) {
	tenant, ok := ctx.Value(tenantKey{}).(*store.Tenant)
	return tenant, ok
}

func deny(w http.ResponseWriter, r *http.Request, security SecurityRecorder, reason string) {
	if security != nil {
		// Best effort: a failed security write must not block the 401.
		_, _ = security.RecordAccess(r.Context(), audit.AccessEvent{
			EventType:     "access_denied",
			SourceIP:      clientIP(r),
			UserAgent:     r.UserAgent(),
			Resource:      r.URL.Path,
			Success:       false,
			FailureReason: reason,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: "Unauthorized",
		Code:  "401",
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
