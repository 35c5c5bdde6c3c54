package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestGetUserIDFromContext(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{
			name: "valid user ID in context",
			ctx: context.WithValue(context.Background(), ClaimsKey, &Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
			}),
			expected: "user-123",
		},
		{
			name:     "no claims in context",
			ctx:      context.Background(),
			expected: "",
		},
		{
			name:     "nil claims in context",
			ctx:      context.WithValue(context.Background(), ClaimsKey, (*Claims)(nil)),
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetUserIDFromContext(tt.ctx); got != tt.expected {
				t.Errorf("GetUserIDFromContext() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetOrgIDFromContext(t *testing.T) {
	validOrgID := uuid.New()
	tests := []struct {
		name     string
		ctx      context.Context
		expected uuid.UUID
	}{
		{
			name:     "valid org ID in context",
			ctx:      context.WithValue(context.Background(), ClaimsKey, &Claims{OrgID: validOrgID.String()}),
			expected: validOrgID,
		},
		{
			name:     "no claims in context",
			ctx:      context.Background(),
			expected: uuid.Nil,
		},
		{
			name:     "nil claims in context",
			ctx:      context.WithValue(context.Background(), ClaimsKey, (*Claims)(nil)),
			expected: uuid.Nil,
		},
		{
			name:     "invalid UUID format",
			ctx:      context.WithValue(context.Background(), ClaimsKey, &Claims{OrgID: "not-a-uuid"}),
			expected: uuid.Nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetOrgIDFromContext(tt.ctx); got != tt.expected {
				t.Errorf("GetOrgIDFromContext() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRequireOrgIDFromContext(t *testing.T) {
	if _, err := RequireOrgIDFromContext(context.Background()); err == nil {
		t.Error("expected error without claims")
	}

	orgID := uuid.New()
	ctx := context.WithValue(context.Background(), ClaimsKey, &Claims{OrgID: orgID.String()})
	got, err := RequireOrgIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != orgID {
		t.Errorf("got %v, want %v", got, orgID)
	}
}
