package mcpauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
)

// mockAuthService is a mock implementation of auth.AuthService for testing.
type mockAuthService struct {
	claims        *auth.Claims
	token         string
	validateErr   error
	requireOrgErr error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if m.validateErr != nil {
		return nil, "", m.validateErr
	}
	return m.claims, m.token, nil
}

func (m *mockAuthService) RequireOrgID(claims *auth.Claims) error {
	return m.requireOrgErr
}

func (m *mockAuthService) ValidateOrgIDMatch(claims *auth.Claims, urlOrgID string) error {
	return nil
}

type scopeKey struct{}

func TestMiddleware_RequireAuth_Success(t *testing.T) {
	orgID := uuid.New()
	claims := &auth.Claims{OrgID: orgID.String()}
	authService := &mockAuthService{claims: claims, token: "test-token"}

	var scopedOrg uuid.UUID
	var cleaned bool
	tenantScope := func(ctx context.Context, id uuid.UUID) (context.Context, func(), error) {
		scopedOrg = id
		return context.WithValue(ctx, scopeKey{}, id), func() { cleaned = true }, nil
	}
	middleware := NewMiddleware(authService, tenantScope, zap.NewNop())

	var handlerCalled bool
	var ctxClaims *auth.Claims
	var ctxToken string
	var ctxScope any

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		ctxClaims, _ = auth.GetClaims(r.Context())
		ctxToken, _ = auth.GetToken(r.Context())
		ctxScope = r.Context().Value(scopeKey{})
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()

	middleware.RequireAuth(handler).ServeHTTP(rec, req)

	if !handlerCalled {
		t.Fatal("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ctxClaims == nil || ctxClaims.OrgID != orgID.String() {
		t.Error("expected claims to be set in context")
	}
	if ctxToken != "test-token" {
		t.Errorf("expected token 'test-token' in context, got %q", ctxToken)
	}
	if scopedOrg != orgID || ctxScope != orgID {
		t.Errorf("expected tenant scope for %s, got %v", orgID, ctxScope)
	}
	if !cleaned {
		t.Error("expected tenant scope cleanup after the handler")
	}
}

func TestMiddleware_RequireAuth_NilTenantScope(t *testing.T) {
	claims := &auth.Claims{OrgID: uuid.NewString()}
	middleware := NewMiddleware(&mockAuthService{claims: claims, token: "t"}, nil, zap.NewNop())

	var handlerCalled bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	rec := httptest.NewRecorder()
	middleware.RequireAuth(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if !handlerCalled {
		t.Error("expected handler to be called without a tenant scope")
	}
}

func TestMiddleware_RequireAuth_TenantScopeError(t *testing.T) {
	claims := &auth.Claims{OrgID: uuid.NewString()}
	tenantScope := func(ctx context.Context, id uuid.UUID) (context.Context, func(), error) {
		return nil, nil, errors.New("pool exhausted")
	}
	middleware := NewMiddleware(&mockAuthService{claims: claims, token: "t"}, tenantScope, zap.NewNop())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	rec := httptest.NewRecorder()
	middleware.RequireAuth(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
}

func TestMiddleware_RequireAuth_MalformedOrgID(t *testing.T) {
	claims := &auth.Claims{OrgID: "not-a-uuid"}
	middleware := NewMiddleware(&mockAuthService{claims: claims, token: "t"}, nil, zap.NewNop())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})

	rec := httptest.NewRecorder()
	middleware.RequireAuth(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
	if wwwAuth := rec.Header().Get("WWW-Authenticate"); !strings.Contains(wwwAuth, "insufficient_scope") {
		t.Errorf("expected insufficient_scope error, got %q", wwwAuth)
	}
}

func TestMiddleware_WWWAuthenticateFormat(t *testing.T) {
	testCases := []struct {
		name           string
		authService    *mockAuthService
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "invalid_token on auth failure",
			authService:    &mockAuthService{validateErr: auth.ErrInvalidAuthFormat},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid_token",
		},
		{
			name:           "invalid_token on missing header",
			authService:    &mockAuthService{validateErr: auth.ErrMissingAuthorization},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid_token",
		},
		{
			name: "invalid_token on missing org",
			authService: &mockAuthService{
				claims:        &auth.Claims{},
				token:         "t",
				requireOrgErr: auth.ErrMissingOrgID,
			},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "invalid_token",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			middleware := NewMiddleware(tc.authService, nil, zap.NewNop())

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			})

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			rec := httptest.NewRecorder()

			middleware.RequireAuth(handler).ServeHTTP(rec, req)

			if rec.Code != tc.expectedStatus {
				t.Errorf("expected status %d, got %d", tc.expectedStatus, rec.Code)
			}

			wwwAuth := rec.Header().Get("WWW-Authenticate")

			// RFC 6750 format: Bearer error="...", error_description="..."
			if !strings.HasPrefix(wwwAuth, "Bearer ") {
				t.Errorf("expected Bearer scheme, got %q", wwwAuth)
			}
			if !strings.Contains(wwwAuth, `error="`+tc.expectedError+`"`) {
				t.Errorf("expected error=%q, got %q", tc.expectedError, wwwAuth)
			}
			if !strings.Contains(wwwAuth, `error_description="`) {
				t.Errorf("expected error_description in %q", wwwAuth)
			}
		})
	}
}
