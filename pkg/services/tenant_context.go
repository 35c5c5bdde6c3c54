package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/database"
)

// TenantContextFunc acquires an org-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
type TenantContextFunc func(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc that uses the given database.
func NewTenantContextFunc(db *database.DB) TenantContextFunc {
	return func(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
		scope, err := db.WithTenant(ctx, orgID)
		if err != nil {
			return nil, nil, err
		}
		return database.SetTenantScope(ctx, scope), scope.Close, nil
	}
}

// NewAdminContextFunc acquires a connection without org context, for cross-org listings.
func NewAdminContextFunc(db *database.DB) AdminContextFunc {
	return func(ctx context.Context) (context.Context, func(), error) {
		scope, err := db.WithoutTenant(ctx)
		if err != nil {
			return nil, nil, err
		}
		return database.SetTenantScope(ctx, scope), scope.Close, nil
	}
}
