package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/database"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// GraphNodeRepository provides data access for graph nodes.
type GraphNodeRepository interface {
	// Upsert inserts or updates a node keyed by (org, type, entity id).
	// The risk score is never written; the stored value is returned on the node.
	Upsert(ctx context.Context, node *models.GraphNode) error
	GetByID(ctx context.Context, orgID, nodeID uuid.UUID) (*models.GraphNode, error)
	GetByIDs(ctx context.Context, orgID uuid.UUID, nodeIDs []uuid.UUID) ([]*models.GraphNode, error)
	List(ctx context.Context, orgID uuid.UUID, filters models.NodeFilters) ([]*models.GraphNode, int, error)
	ListRecentlyUpdated(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.GraphNode, error)
	ListAmountPercentiles(ctx context.Context, orgID uuid.UUID, types []models.NodeType) (map[uuid.UUID]models.AmountPercentile, error)
	UpdateRiskScores(ctx context.Context, orgID uuid.UUID, updates []models.RiskScoreUpdate) error
	DeleteByEntity(ctx context.Context, orgID uuid.UUID, nodeType models.NodeType, entityID string) error
	ListOrgIDs(ctx context.Context) ([]uuid.UUID, error)
}

type graphNodeRepository struct{}

// NewGraphNodeRepository creates a new GraphNodeRepository.
func NewGraphNodeRepository() GraphNodeRepository {
	return &graphNodeRepository{}
}

var _ GraphNodeRepository = (*graphNodeRepository)(nil)

const graphNodeColumns = `id, org_id, type, entity_id, title, status,
	amount_cents, currency, due_at, occurred_at, risk_score, created_at, updated_at`

func (r *graphNodeRepository) Upsert(ctx context.Context, node *models.GraphNode) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}

	query := `
		INSERT INTO engine_graph_nodes (
			id, org_id, type, entity_id, title, status,
			amount_cents, currency, due_at, occurred_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (org_id, type, entity_id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			due_at = EXCLUDED.due_at,
			occurred_at = EXCLUDED.occurred_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, risk_score, created_at, updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		node.ID, node.OrgID, node.Type, node.EntityID, node.Title, node.Status,
		node.AmountCents, node.Currency, node.DueAt, node.OccurredAt, now,
	).Scan(&node.ID, &node.RiskScore, &node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert graph node: %w", err)
	}

	return nil
}

func (r *graphNodeRepository) GetByID(ctx context.Context, orgID, nodeID uuid.UUID) (*models.GraphNode, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + graphNodeColumns + `
		FROM engine_graph_nodes
		WHERE org_id = $1 AND id = $2`

	node, err := scanGraphNode(scope.Conn.QueryRow(ctx, query, orgID, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get graph node: %w", err)
	}

	return node, nil
}

func (r *graphNodeRepository) GetByIDs(ctx context.Context, orgID uuid.UUID, nodeIDs []uuid.UUID) ([]*models.GraphNode, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if len(nodeIDs) == 0 {
		return []*models.GraphNode{}, nil
	}

	query := `SELECT ` + graphNodeColumns + `
		FROM engine_graph_nodes
		WHERE org_id = $1 AND id = ANY($2)
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, orgID, nodeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph nodes: %w", err)
	}
	defer rows.Close()

	return collectGraphNodes(rows)
}

func (r *graphNodeRepository) List(ctx context.Context, orgID uuid.UUID, filters models.NodeFilters) ([]*models.GraphNode, int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, 0, fmt.Errorf("no tenant scope in context")
	}

	page := filters.Page.Normalize()

	conditions := []string{"org_id = $1"}
	args := []any{orgID}
	argIdx := 2

	if len(filters.Types) > 0 {
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", argIdx))
		args = append(args, nodeTypeStrings(filters.Types))
		argIdx++
	}

	if q := strings.TrimSpace(filters.Query); q != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR entity_id ILIKE $%d)", argIdx, argIdx))
		args = append(args, "%"+escapeLike(q)+"%")
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM engine_graph_nodes WHERE %s`, where)
	var total int
	if err := scope.Conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count graph nodes: %w", err)
	}

	dataQuery := fmt.Sprintf(`
		SELECT %s
		FROM engine_graph_nodes
		WHERE %s
		ORDER BY created_at, id
		LIMIT $%d OFFSET $%d`, graphNodeColumns, where, argIdx, argIdx+1)
	args = append(args, page.Limit, page.Offset)

	rows, err := scope.Conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list graph nodes: %w", err)
	}
	defer rows.Close()

	nodes, err := collectGraphNodes(rows)
	if err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

func (r *graphNodeRepository) ListRecentlyUpdated(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.GraphNode, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + graphNodeColumns + `
		FROM engine_graph_nodes
		WHERE org_id = $1
		ORDER BY updated_at DESC, id
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph nodes: %w", err)
	}
	defer rows.Close()

	return collectGraphNodes(rows)
}

// ListAmountPercentiles ranks every positive-amount node of the given types
// against same-type peers of the org. Ties share the lowest rank.
func (r *graphNodeRepository) ListAmountPercentiles(ctx context.Context, orgID uuid.UUID, types []models.NodeType) (map[uuid.UUID]models.AmountPercentile, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id,
		       (rank() OVER (PARTITION BY type ORDER BY amount_cents) - 1)::int AS amount_rank,
		       (count(*) OVER (PARTITION BY type))::int AS peer_count
		FROM engine_graph_nodes
		WHERE org_id = $1 AND type = ANY($2) AND amount_cents > 0`

	rows, err := scope.Conn.Query(ctx, query, orgID, nodeTypeStrings(types))
	if err != nil {
		return nil, fmt.Errorf("failed to rank node amounts: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]models.AmountPercentile)
	for rows.Next() {
		var id uuid.UUID
		var p models.AmountPercentile
		if err := rows.Scan(&id, &p.Rank, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan amount percentile: %w", err)
		}
		result[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating amount percentiles: %w", err)
	}

	return result, nil
}

// UpdateRiskScores writes all updates in one statement, so a batch lands atomically.
// updated_at is left alone: it reflects source entity changes, not scoring.
func (r *graphNodeRepository) UpdateRiskScores(ctx context.Context, orgID uuid.UUID, updates []models.RiskScoreUpdate) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if len(updates) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(updates))
	scores := make([]int32, len(updates))
	for i, u := range updates {
		ids[i] = u.NodeID
		scores[i] = int32(u.RiskScore)
	}

	query := `
		UPDATE engine_graph_nodes AS n
		SET risk_score = u.risk_score
		FROM unnest($2::uuid[], $3::int[]) AS u(id, risk_score)
		WHERE n.org_id = $1 AND n.id = u.id`

	if _, err := scope.Conn.Exec(ctx, query, orgID, ids, scores); err != nil {
		return fmt.Errorf("failed to update risk scores: %w", err)
	}

	return nil
}

func (r *graphNodeRepository) DeleteByEntity(ctx context.Context, orgID uuid.UUID, nodeType models.NodeType, entityID string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	// Incident edges go with the node via ON DELETE CASCADE.
	tag, err := scope.Conn.Exec(ctx, `
		DELETE FROM engine_graph_nodes
		WHERE org_id = $1 AND type = $2 AND entity_id = $3`,
		orgID, nodeType, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete graph node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ListOrgIDs returns every org that owns at least one node.
// Requires a scope without org context.
func (r *graphNodeRepository) ListOrgIDs(ctx context.Context) ([]uuid.UUID, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `SELECT DISTINCT org_id FROM engine_graph_nodes ORDER BY org_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs: %w", err)
	}
	defer rows.Close()

	var orgIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan org id: %w", err)
		}
		orgIDs = append(orgIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orgs: %w", err)
	}

	return orgIDs, nil
}

func scanGraphNode(row pgx.Row) (*models.GraphNode, error) {
	var n models.GraphNode
	err := row.Scan(
		&n.ID, &n.OrgID, &n.Type, &n.EntityID, &n.Title, &n.Status,
		&n.AmountCents, &n.Currency, &n.DueAt, &n.OccurredAt, &n.RiskScore,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectGraphNodes(rows pgx.Rows) ([]*models.GraphNode, error) {
	nodes := make([]*models.GraphNode, 0)
	for rows.Next() {
		n, err := scanGraphNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating graph nodes: %w", err)
	}
	return nodes, nil
}

func nodeTypeStrings(types []models.NodeType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
