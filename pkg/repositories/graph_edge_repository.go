package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/database"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// GraphEdgeRepository provides data access for graph edges.
type GraphEdgeRepository interface {
	// Upsert inserts or re-weights an edge keyed by (org, from, to, type).
	Upsert(ctx context.Context, edge *models.GraphEdge) error
	List(ctx context.Context, orgID uuid.UUID, filters models.EdgeFilters) ([]*models.GraphEdge, int, error)
	// ListIncident returns the most recent edges touching a node in either direction.
	ListIncident(ctx context.Context, orgID, nodeID uuid.UUID, limit int) ([]*models.GraphEdge, error)
	// ListAdjacent returns edges touching a node frontier, ordered by (created_at, id).
	ListAdjacent(ctx context.Context, orgID uuid.UUID, q models.AdjacencyQuery) ([]*models.GraphEdge, error)
}

type graphEdgeRepository struct{}

// NewGraphEdgeRepository creates a new GraphEdgeRepository.
func NewGraphEdgeRepository() GraphEdgeRepository {
	return &graphEdgeRepository{}
}

var _ GraphEdgeRepository = (*graphEdgeRepository)(nil)

const graphEdgeColumns = `id, org_id, from_node_id, to_node_id, type, weight, created_at`

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

func (r *graphEdgeRepository) Upsert(ctx context.Context, edge *models.GraphEdge) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}

	query := `
		INSERT INTO engine_graph_edges (id, org_id, from_node_id, to_node_id, type, weight)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, from_node_id, to_node_id, type) DO UPDATE SET
			weight = EXCLUDED.weight
		RETURNING id, created_at`

	err := scope.Conn.QueryRow(ctx, query,
		edge.ID, edge.OrgID, edge.FromNodeID, edge.ToNodeID, edge.Type, edge.Weight,
	).Scan(&edge.ID, &edge.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to upsert graph edge: %w", err)
	}

	return nil
}

func (r *graphEdgeRepository) List(ctx context.Context, orgID uuid.UUID, filters models.EdgeFilters) ([]*models.GraphEdge, int, error) {
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
		args = append(args, edgeTypeStrings(filters.Types))
		argIdx++
	}

	if filters.FromNodeID != nil {
		conditions = append(conditions, fmt.Sprintf("from_node_id = $%d", argIdx))
		args = append(args, *filters.FromNodeID)
		argIdx++
	}

	if filters.ToNodeID != nil {
		conditions = append(conditions, fmt.Sprintf("to_node_id = $%d", argIdx))
		args = append(args, *filters.ToNodeID)
		argIdx++
	}

	if filters.NodeID != nil {
		conditions = append(conditions, fmt.Sprintf("(from_node_id = $%d OR to_node_id = $%d)", argIdx, argIdx))
		args = append(args, *filters.NodeID)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM engine_graph_edges WHERE %s`, where)
	var total int
	if err := scope.Conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count graph edges: %w", err)
	}

	dataQuery := fmt.Sprintf(`
		SELECT %s
		FROM engine_graph_edges
		WHERE %s
		ORDER BY created_at, id
		LIMIT $%d OFFSET $%d`, graphEdgeColumns, where, argIdx, argIdx+1)
	args = append(args, page.Limit, page.Offset)

	rows, err := scope.Conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list graph edges: %w", err)
	}
	defer rows.Close()

	edges, err := collectGraphEdges(rows)
	if err != nil {
		return nil, 0, err
	}
	return edges, total, nil
}

func (r *graphEdgeRepository) ListIncident(ctx context.Context, orgID, nodeID uuid.UUID, limit int) ([]*models.GraphEdge, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + graphEdgeColumns + `
		FROM engine_graph_edges
		WHERE org_id = $1 AND (from_node_id = $2 OR to_node_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := scope.Conn.Query(ctx, query, orgID, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident edges: %w", err)
	}
	defer rows.Close()

	return collectGraphEdges(rows)
}

func (r *graphEdgeRepository) ListAdjacent(ctx context.Context, orgID uuid.UUID, q models.AdjacencyQuery) ([]*models.GraphEdge, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if len(q.NodeIDs) == 0 || q.Limit <= 0 {
		return []*models.GraphEdge{}, nil
	}

	conditions := []string{"org_id = $1"}
	args := []any{orgID, q.NodeIDs}
	argIdx := 3

	switch q.Direction {
	case models.DirectionOut:
		conditions = append(conditions, "from_node_id = ANY($2)")
	case models.DirectionIn:
		conditions = append(conditions, "to_node_id = ANY($2)")
	default:
		conditions = append(conditions, "(from_node_id = ANY($2) OR to_node_id = ANY($2))")
	}

	if len(q.EdgeTypes) > 0 {
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", argIdx))
		args = append(args, edgeTypeStrings(q.EdgeTypes))
		argIdx++
	}

	if len(q.ExcludeEdgeIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("NOT (id = ANY($%d))", argIdx))
		args = append(args, q.ExcludeEdgeIDs)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM engine_graph_edges
		WHERE %s
		ORDER BY created_at, id
		LIMIT $%d`, graphEdgeColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, q.Limit)

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjacent edges: %w", err)
	}
	defer rows.Close()

	return collectGraphEdges(rows)
}

func scanGraphEdge(row pgx.Row) (*models.GraphEdge, error) {
	var e models.GraphEdge
	if err := row.Scan(&e.ID, &e.OrgID, &e.FromNodeID, &e.ToNodeID, &e.Type, &e.Weight, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectGraphEdges(rows pgx.Rows) ([]*models.GraphEdge, error) {
	edges := make([]*models.GraphEdge, 0)
	for rows.Next() {
		e, err := scanGraphEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating graph edges: %w", err)
	}
	return edges, nil
}

func edgeTypeStrings(types []models.EdgeType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
