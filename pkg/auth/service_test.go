package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type mockJWKSClient struct {
	claims *Claims
	err    error
	got    string
}

func (m *mockJWKSClient) ValidateToken(tokenString string) (*Claims, error) {
	m.got = tokenString
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func (m *mockJWKSClient) Close() {}

func TestAuthService_ValidateRequest_AuthHeader(t *testing.T) {
	jwks := &mockJWKSClient{claims: &Claims{OrgID: "org-456"}}
	service := NewAuthService(jwks, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer my-jwt-token")

	claims, token, err := service.ValidateRequest(req)
	if err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if token != "my-jwt-token" || jwks.got != "my-jwt-token" {
		t.Errorf("expected token 'my-jwt-token', got %q", token)
	}
	if claims.OrgID != "org-456" {
		t.Errorf("expected OrgID 'org-456', got %q", claims.OrgID)
	}
}

func TestAuthService_ValidateRequest_HeaderErrors(t *testing.T) {
	service := NewAuthService(&mockJWKSClient{claims: &Claims{}}, zap.NewNop())

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"missing header", "", ErrMissingAuthorization},
		{"basic scheme", "Basic dXNlcjpwYXNz", ErrInvalidAuthFormat},
		{"no token", "Bearer", ErrInvalidAuthFormat},
		{"extra parts", "Bearer a b", ErrInvalidAuthFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, _, err := service.ValidateRequest(req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthService_ValidateRequest_InvalidToken(t *testing.T) {
	jwksErr := errors.New("token expired")
	service := NewAuthService(&mockJWKSClient{err: jwksErr}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer expired")

	if _, _, err := service.ValidateRequest(req); !errors.Is(err, jwksErr) {
		t.Errorf("expected %v, got %v", jwksErr, err)
	}
}

func TestAuthService_RequireOrgID(t *testing.T) {
	service := NewAuthService(&mockJWKSClient{}, zap.NewNop())

	if err := service.RequireOrgID(&Claims{OrgID: "org-1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := service.RequireOrgID(&Claims{}); !errors.Is(err, ErrMissingOrgID) {
		t.Errorf("expected ErrMissingOrgID, got %v", err)
	}
}

func TestAuthService_ValidateOrgIDMatch(t *testing.T) {
	service := NewAuthService(&mockJWKSClient{}, zap.NewNop())
	claims := &Claims{OrgID: "5f0c6f4e-3c1a-4b8e-9d55-0a1b2c3d4e5f"}

	tests := []struct {
		name    string
		urlOrg  string
		wantErr error
	}{
		{"match", "5f0c6f4e-3c1a-4b8e-9d55-0a1b2c3d4e5f", nil},
		{"case-insensitive match", "5F0C6F4E-3C1A-4B8E-9D55-0A1B2C3D4E5F", nil},
		{"empty url org skips check", "", nil},
		{"mismatch", "00000000-0000-0000-0000-000000000001", ErrOrgIDMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.ValidateOrgIDMatch(claims, tt.urlOrg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
