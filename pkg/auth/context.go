package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns empty string if not authenticated or claims are missing.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// GetOrgIDFromContext extracts the org ID from JWT claims in the context.
// Returns uuid.Nil if not authenticated or the claim is missing or malformed.
func GetOrgIDFromContext(ctx context.Context) uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.OrgID == "" {
		return uuid.Nil
	}

	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return uuid.Nil
	}
	return orgID
}

// RequireOrgIDFromContext extracts the org ID from context and returns an error if not found.
func RequireOrgIDFromContext(ctx context.Context) (uuid.UUID, error) {
	orgID := GetOrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("org ID not found in context")
	}
	return orgID, nil
}
