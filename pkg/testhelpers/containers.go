// Package testhelpers provides utilities for testing ekaya-riskgraph components.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/database"
)

// PostgresImage is the stock PostgreSQL image used for integration tests.
const PostgresImage = "postgres:16-alpine"

// TestDB holds a shared test database container and connection pool.
// Migrations are applied once when the container starts.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared, migrated PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "riskgraph_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/riskgraph_test?sslmode=disable",
		host, port.Port())

	var db *database.DB
	for i := 0; i < 10; i++ {
		db, err = database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 10})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	// golang-migrate needs database/sql
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// Pool returns the underlying pgx pool.
func (tdb *TestDB) Pool() *pgxpool.Pool {
	return tdb.DB.Pool
}

// NewOrg returns a fresh org ID and registers cleanup of everything written under it.
func (tdb *TestDB) NewOrg(t *testing.T) uuid.UUID {
	t.Helper()
	orgID := uuid.New()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = tdb.DB.Exec(ctx, "DELETE FROM engine_graph_edges WHERE org_id = $1", orgID)
		_, _ = tdb.DB.Exec(ctx, "DELETE FROM engine_graph_nodes WHERE org_id = $1", orgID)
		_, _ = tdb.DB.Exec(ctx, "DELETE FROM engine_risk_snapshots WHERE org_id = $1", orgID)
		_, _ = tdb.DB.Exec(ctx, "DELETE FROM engine_locks WHERE lock_key LIKE $1", "%"+orgID.String())
	})
	return orgID
}

// TenantContext returns a context carrying an org-scoped connection, closed at test cleanup.
func (tdb *TestDB) TenantContext(t *testing.T, orgID uuid.UUID) context.Context {
	t.Helper()
	scope, err := tdb.DB.WithTenant(context.Background(), orgID)
	if err != nil {
		t.Fatalf("failed to acquire tenant scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetTenantScope(context.Background(), scope)
}
