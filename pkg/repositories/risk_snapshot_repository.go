package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/database"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// RiskSnapshotRepository provides data access for daily org risk snapshots.
type RiskSnapshotRepository interface {
	// Upsert creates or overwrites the snapshot for (org, as-of date).
	Upsert(ctx context.Context, snapshot *models.RiskSnapshot) error
	GetLatest(ctx context.Context, orgID uuid.UUID) (*models.RiskSnapshot, error)
	GetByDate(ctx context.Context, orgID uuid.UUID, asOfDate time.Time) (*models.RiskSnapshot, error)
}

type riskSnapshotRepository struct{}

// NewRiskSnapshotRepository creates a new RiskSnapshotRepository.
func NewRiskSnapshotRepository() RiskSnapshotRepository {
	return &riskSnapshotRepository{}
}

var _ RiskSnapshotRepository = (*riskSnapshotRepository)(nil)

func (r *riskSnapshotRepository) Upsert(ctx context.Context, snapshot *models.RiskSnapshot) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	drivers := snapshot.Drivers
	if drivers == nil {
		drivers = models.Drivers{}
	}
	driversJSON, err := json.Marshal(drivers)
	if err != nil {
		return fmt.Errorf("failed to marshal drivers: %w", err)
	}
	metaJSON, err := json.Marshal(snapshot.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot meta: %w", err)
	}

	query := `
		INSERT INTO engine_risk_snapshots (org_id, as_of_date, risk_score, drivers, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (org_id, as_of_date) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			drivers = EXCLUDED.drivers,
			meta = EXCLUDED.meta,
			updated_at = now()
		RETURNING created_at`

	err = scope.Conn.QueryRow(ctx, query,
		snapshot.OrgID, models.AsOfDate(snapshot.AsOfDate), snapshot.RiskScore, driversJSON, metaJSON,
	).Scan(&snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert risk snapshot: %w", err)
	}

	return nil
}

func (r *riskSnapshotRepository) GetLatest(ctx context.Context, orgID uuid.UUID) (*models.RiskSnapshot, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT org_id, as_of_date, risk_score, drivers, meta, created_at
		FROM engine_risk_snapshots
		WHERE org_id = $1
		ORDER BY as_of_date DESC
		LIMIT 1`

	snapshot, err := scanRiskSnapshot(scope.Conn.QueryRow(ctx, query, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest risk snapshot: %w", err)
	}

	return snapshot, nil
}

func (r *riskSnapshotRepository) GetByDate(ctx context.Context, orgID uuid.UUID, asOfDate time.Time) (*models.RiskSnapshot, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT org_id, as_of_date, risk_score, drivers, meta, created_at
		FROM engine_risk_snapshots
		WHERE org_id = $1 AND as_of_date = $2`

	snapshot, err := scanRiskSnapshot(scope.Conn.QueryRow(ctx, query, orgID, models.AsOfDate(asOfDate)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get risk snapshot: %w", err)
	}

	return snapshot, nil
}

func scanRiskSnapshot(row pgx.Row) (*models.RiskSnapshot, error) {
	var s models.RiskSnapshot
	var driversJSON, metaJSON []byte
	if err := row.Scan(&s.OrgID, &s.AsOfDate, &s.RiskScore, &driversJSON, &metaJSON, &s.CreatedAt); err != nil {
		return nil, err
	}

	s.AsOfDate = models.AsOfDate(s.AsOfDate)
	s.Drivers = models.Drivers{}
	if len(driversJSON) > 0 {
		if err := json.Unmarshal(driversJSON, &s.Drivers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal drivers: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &s.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot meta: %w", err)
		}
	}

	return &s, nil
}
