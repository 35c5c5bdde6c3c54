package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/metrics"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/repositories"
)

// Traverse bounds.
const (
	DefaultTraverseDepth = 2
	MaxTraverseDepth     = 4
	TraverseMaxNodes     = 500
	TraverseMaxEdges     = 1000
	// NodeDetailEdgeLimit bounds the incident edges returned with a node.
	NodeDetailEdgeLimit = 50
)

// TraverseOptions tunes a best-effort graph expansion.
type TraverseOptions struct {
	MaxDepth  int
	EdgeTypes []models.EdgeType
}

// GraphService reads and writes an org's graph.
// All methods expect a tenant scope in ctx.
type GraphService interface {
	ListNodes(ctx context.Context, orgID uuid.UUID, filters models.NodeFilters) ([]*models.GraphNode, int, error)
	ListEdges(ctx context.Context, orgID uuid.UUID, filters models.EdgeFilters) ([]*models.GraphEdge, int, error)
	GetNode(ctx context.Context, orgID, nodeID uuid.UUID) (*models.NodeDetail, error)
	// Traverse expands undirected from the start node. Reaching a cap stops the
	// expansion and sets Truncated; it is not an error.
	Traverse(ctx context.Context, orgID, startNodeID uuid.UUID, opts TraverseOptions) (*models.Subgraph, error)

	// UpsertNode applies a source entity change. The stored risk score is kept.
	UpsertNode(ctx context.Context, orgID uuid.UUID, node *models.GraphNode) (*models.GraphNode, error)
	UpsertEdge(ctx context.Context, orgID uuid.UUID, edge *models.GraphEdge) (*models.GraphEdge, error)
	DeleteNodeByEntity(ctx context.Context, orgID uuid.UUID, nodeType models.NodeType, entityID string) error
}

type graphService struct {
	nodeRepo repositories.GraphNodeRepository
	edgeRepo repositories.GraphEdgeRepository
	logger   *zap.Logger
}

// NewGraphService creates a new GraphService.
func NewGraphService(
	nodeRepo repositories.GraphNodeRepository,
	edgeRepo repositories.GraphEdgeRepository,
	logger *zap.Logger,
) GraphService {
	return &graphService{
		nodeRepo: nodeRepo,
		edgeRepo: edgeRepo,
		logger:   logger.Named("graph-service"),
	}
}

var _ GraphService = (*graphService)(nil)

func (s *graphService) ListNodes(ctx context.Context, orgID uuid.UUID, filters models.NodeFilters) ([]*models.GraphNode, int, error) {
	filters.Page = filters.Page.Normalize()
	return s.nodeRepo.List(ctx, orgID, filters)
}

func (s *graphService) ListEdges(ctx context.Context, orgID uuid.UUID, filters models.EdgeFilters) ([]*models.GraphEdge, int, error) {
	filters.Page = filters.Page.Normalize()
	return s.edgeRepo.List(ctx, orgID, filters)
}

func (s *graphService) GetNode(ctx context.Context, orgID, nodeID uuid.UUID) (*models.NodeDetail, error) {
	node, err := s.nodeRepo.GetByID(ctx, orgID, nodeID)
	if err != nil {
		return nil, err
	}
	edges, err := s.edgeRepo.ListIncident(ctx, orgID, nodeID, NodeDetailEdgeLimit)
	if err != nil {
		return nil, err
	}
	return &models.NodeDetail{Node: node, Edges: edges}, nil
}

func (s *graphService) Traverse(ctx context.Context, orgID, startNodeID uuid.UUID, opts TraverseOptions) (*models.Subgraph, error) {
	if _, err := s.nodeRepo.GetByID(ctx, orgID, startNodeID); err != nil {
		return nil, err
	}

	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultTraverseDepth
	}
	depth = min(depth, MaxTraverseDepth)

	visited := map[uuid.UUID]struct{}{startNodeID: {}}
	nodeIDs := []uuid.UUID{startNodeID}
	var edges []*models.GraphEdge
	var edgeIDs []uuid.UUID
	truncated := false

	frontier := []uuid.UUID{startNodeID}
expand:
	for level := 0; level < depth && len(frontier) > 0; level++ {
		remaining := TraverseMaxEdges - len(edges)
		if remaining <= 0 {
			truncated = true
			break
		}

		batch, err := s.edgeRepo.ListAdjacent(ctx, orgID, models.AdjacencyQuery{
			NodeIDs:        frontier,
			Direction:      models.DirectionBoth,
			EdgeTypes:      opts.EdgeTypes,
			ExcludeEdgeIDs: edgeIDs,
			Limit:          remaining + 1,
		})
		if err != nil {
			return nil, err
		}
		if len(batch) > remaining {
			batch = batch[:remaining]
			truncated = true
		}

		var next []uuid.UUID
		for _, e := range batch {
			for _, id := range []uuid.UUID{e.FromNodeID, e.ToNodeID} {
				if _, seen := visited[id]; seen {
					continue
				}
				if len(nodeIDs) >= TraverseMaxNodes {
					truncated = true
					break expand
				}
				visited[id] = struct{}{}
				nodeIDs = append(nodeIDs, id)
				next = append(next, id)
			}
			edges = append(edges, e)
			edgeIDs = append(edgeIDs, e.ID)
		}
		frontier = next
	}

	nodes, err := s.nodeRepo.GetByIDs(ctx, orgID, nodeIDs)
	if err != nil {
		return nil, err
	}
	if edges == nil {
		edges = []*models.GraphEdge{}
	}

	if truncated {
		metrics.TraverseTruncatedTotal.Inc()
		s.logger.Debug("Traversal stopped at cap",
			zap.String("org_id", orgID.String()),
			zap.String("start_node_id", startNodeID.String()),
			zap.Int("nodes", len(nodes)),
			zap.Int("edges", len(edges)))
	}

	return &models.Subgraph{Nodes: nodes, Edges: edges, Truncated: truncated}, nil
}

func (s *graphService) UpsertNode(ctx context.Context, orgID uuid.UUID, node *models.GraphNode) (*models.GraphNode, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node is required", apperrors.ErrInvalidArgument)
	}
	node.Type = models.NodeType(strings.ToUpper(strings.TrimSpace(string(node.Type))))
	if !node.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown node type %q", apperrors.ErrInvalidArgument, node.Type)
	}
	node.EntityID = strings.TrimSpace(node.EntityID)
	if node.EntityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", apperrors.ErrInvalidArgument)
	}
	node.OrgID = orgID
	node.ID = uuid.Nil

	if err := s.nodeRepo.Upsert(ctx, node); err != nil {
		return nil, err
	}

	s.logger.Debug("Graph node upserted",
		zap.String("org_id", orgID.String()),
		zap.String("node_id", node.ID.String()),
		zap.String("type", string(node.Type)),
		zap.String("entity_id", node.EntityID))

	return node, nil
}

func (s *graphService) UpsertEdge(ctx context.Context, orgID uuid.UUID, edge *models.GraphEdge) (*models.GraphEdge, error) {
	if edge == nil {
		return nil, fmt.Errorf("%w: edge is required", apperrors.ErrInvalidArgument)
	}
	edge.Type = models.EdgeType(strings.ToUpper(strings.TrimSpace(string(edge.Type))))
	if !edge.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown edge type %q", apperrors.ErrInvalidArgument, edge.Type)
	}
	if edge.Weight <= 0 {
		return nil, fmt.Errorf("%w: weight must be positive", apperrors.ErrInvalidArgument)
	}
	if edge.FromNodeID == uuid.Nil || edge.ToNodeID == uuid.Nil {
		return nil, fmt.Errorf("%w: from_node_id and to_node_id are required", apperrors.ErrInvalidArgument)
	}
	if edge.FromNodeID == edge.ToNodeID {
		return nil, fmt.Errorf("%w: edge endpoints must differ", apperrors.ErrInvalidArgument)
	}

	endpoints, err := s.nodeRepo.GetByIDs(ctx, orgID, []uuid.UUID{edge.FromNodeID, edge.ToNodeID})
	if err != nil {
		return nil, err
	}
	if len(endpoints) != 2 {
		return nil, fmt.Errorf("%w: edge endpoint not in graph", apperrors.ErrNotFound)
	}

	edge.OrgID = orgID
	edge.ID = uuid.Nil
	if err := s.edgeRepo.Upsert(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

func (s *graphService) DeleteNodeByEntity(ctx context.Context, orgID uuid.UUID, nodeType models.NodeType, entityID string) error {
	if !nodeType.Valid() {
		return fmt.Errorf("%w: unknown node type %q", apperrors.ErrInvalidArgument, nodeType)
	}
	if err := s.nodeRepo.DeleteByEntity(ctx, orgID, nodeType, entityID); err != nil {
		return err
	}

	s.logger.Info("Graph node deleted",
		zap.String("org_id", orgID.String()),
		zap.String("type", string(nodeType)),
		zap.String("entity_id", entityID))
	return nil
}
