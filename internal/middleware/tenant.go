package middleware

import (
	"net/http"
	"strings"

	"github.com/ocx/workforce/internal/tenant"
)

// TenantMiddleware ensures a valid organization context exists for the
// request, resolved from a Bearer API key or an X-Tenant-Id header
// fallback, and attaches the acting user from X-User-Id when present.
func TenantMiddleware(tm *tenant.Manager, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var orgID string

		// 1. Check Authorization Header (API Key)
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ocx_") {
			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			org, err := tm.ValidateAPIKey(ctx, apiKey)
			if err != nil {
				http.Error(w, "Invalid API Key", http.StatusUnauthorized)
				return
			}
			orgID = org.ID
		}

		// 2. Check X-Tenant-Id Header (trusted/internal/dev fallback)
		if orgID == "" {
			if reqOrgID := r.Header.Get("X-Tenant-Id"); reqOrgID != "" {
				org, err := tm.GetOrg(reqOrgID)
				if err != nil {
					http.Error(w, "Invalid Tenant ID", http.StatusUnauthorized)
					return
				}
				orgID = org.ID
			}
		}

		// 3. Enforce tenant context
		if orgID == "" {
			http.Error(w, "Missing Tenant Context (API Key or X-Tenant-Id)", http.StatusUnauthorized)
			return
		}

		// 4. Inject org (and acting user, if present) into context
		ctx = tenant.WithOrg(ctx, orgID)
		if userID := r.Header.Get("X-User-Id"); userID != "" {
			ctx = tenant.WithUser(ctx, userID)
		}
		next(w, r.WithContext(ctx))
	}
}
