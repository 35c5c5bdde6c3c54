package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth validates the JWT and requires an org ID in it.
// Use for endpoints without an org in the URL, such as /mcp.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		if err := m.authService.RequireOrgID(claims); err != nil {
			m.badRequest(w, "Missing org ID in token")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// RequireAuthWithPathValidation validates the JWT and matches the URL org ID to the token.
// pathParamName is the name used in r.PathValue() (e.g., "oid").
func (m *Middleware) RequireAuthWithPathValidation(pathParamName string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := m.authService.ValidateRequest(r)
			if err != nil {
				m.unauthorized(w, "Authentication required")
				return
			}

			if err := m.authService.RequireOrgID(claims); err != nil {
				m.badRequest(w, "Missing org ID in token")
				return
			}

			if err := m.authService.ValidateOrgIDMatch(claims, r.PathValue(pathParamName)); err != nil {
				m.forbidden(w, "Org ID mismatch between token and URL")
				return
			}

			next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
		}
	}
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", message)
}

func (m *Middleware) badRequest(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusBadRequest, "bad_request", message)
}

func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusForbidden, "forbidden", message)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
