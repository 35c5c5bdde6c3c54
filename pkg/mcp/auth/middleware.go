// Package mcpauth provides MCP-specific authentication middleware.
// It wraps the core auth service with RFC 6750 Bearer token error responses.
package mcpauth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
)

// TenantScopeFunc acquires an org-scoped database connection for the request.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type TenantScopeFunc func(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error)

// Middleware provides MCP-specific authentication middleware.
// Unlike the general auth middleware, this returns RFC 6750 WWW-Authenticate
// headers for OAuth 2.0 Bearer token authentication errors.
type Middleware struct {
	authService auth.AuthService
	tenantScope TenantScopeFunc
	logger      *zap.Logger
}

// NewMiddleware creates a new MCP auth middleware.
// tenantScope may be nil, in which case tools get no database scope from the request.
func NewMiddleware(authService auth.AuthService, tenantScope TenantScopeFunc, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		tenantScope: tenantScope,
		logger:      logger,
	}
}

// RequireAuth validates the JWT, requires an org ID in it, and opens the
// org's tenant scope for the tools. The org comes only from the token.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.logger.Debug("MCP auth failed: invalid or missing token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.writeWWWAuthenticate(w, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired")
			return
		}

		if err := m.authService.RequireOrgID(claims); err != nil {
			m.logger.Debug("MCP auth failed: missing org ID",
				zap.String("path", r.URL.Path))
			m.writeWWWAuthenticate(w, http.StatusUnauthorized, "invalid_token", "The access token is missing required org scope")
			return
		}

		orgID, err := uuid.Parse(claims.OrgID)
		if err != nil {
			m.logger.Warn("MCP auth failed: malformed org ID",
				zap.String("token_org_id", claims.OrgID))
			m.writeWWWAuthenticate(w, http.StatusForbidden, "insufficient_scope", "The access token carries an invalid org scope")
			return
		}

		ctx := auth.WithClaims(r.Context(), claims, token)

		if m.tenantScope != nil {
			scopedCtx, cleanup, err := m.tenantScope(ctx, orgID)
			if err != nil {
				m.logger.Error("Failed to acquire tenant scope for MCP request",
					zap.String("org_id", orgID.String()),
					zap.Error(err))
				http.Error(w, "database connection error", http.StatusInternalServerError)
				return
			}
			defer cleanup()
			ctx = scopedCtx
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeWWWAuthenticate writes an RFC 6750 Bearer token error response.
// See: https://datatracker.ietf.org/doc/html/rfc6750#section-3
func (m *Middleware) writeWWWAuthenticate(w http.ResponseWriter, status int, errorCode, description string) {
	headerValue := `Bearer error="` + errorCode + `", error_description="` + description + `"`
	w.Header().Set("WWW-Authenticate", headerValue)
	w.WriteHeader(status)
}
