package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tenantSetting is the session variable the RLS policies on engine_* tables read.
const tenantSetting = "app.current_org_id"

// TenantScope wraps a connection with org context and ensures cleanup.
// The connection has app.current_org_id set for RLS policy evaluation.
type TenantScope struct {
	Conn  *pgxpool.Conn
	OrgID uuid.UUID
}

// Close resets the org context and releases the connection to the pool.
// This MUST be called so the org setting never leaks to the next borrower.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET "+tenantSetting)
	s.Conn.Release()
	s.Conn = nil
}

// WithTenant acquires a connection and sets the org context for RLS.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, orgID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('"+tenantSetting+"', $1, false)", orgID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{Conn: conn, OrgID: orgID}, nil
}

// WithoutTenant acquires a connection without org context.
// Use this for cross-org maintenance such as the risk scheduler's org listing.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &TenantScope{Conn: conn}, nil
}
