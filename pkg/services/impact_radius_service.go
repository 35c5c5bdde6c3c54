package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/metrics"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/repositories"
)

// Impact radius bounds. Exceeding a cap fails the query.
const (
	DefaultImpactDepth = 3
	MaxImpactDepth     = 5
	ImpactMaxNodes     = 800
	ImpactMaxEdges     = 2000
	MaxHotspots        = 10
)

// ImpactRadiusService answers "what is affected if this node fails".
// All methods expect a tenant scope in ctx.
type ImpactRadiusService interface {
	// Compute runs a directional BFS from the start node and summarizes the result.
	// Returns apperrors.ErrImpactRadiusTooLarge instead of a partial result.
	Compute(ctx context.Context, orgID, startNodeID uuid.UUID, opts models.ImpactRadiusOptions) (*models.ImpactRadiusResult, error)
	// Deeplink resolves the UI route for a single node.
	Deeplink(ctx context.Context, orgID, nodeID uuid.UUID) (*models.Deeplink, error)
}

type impactRadiusService struct {
	nodeRepo repositories.GraphNodeRepository
	edgeRepo repositories.GraphEdgeRepository
	cache    *ImpactCache
	now      func() time.Time
	logger   *zap.Logger
}

// NewImpactRadiusService creates an ImpactRadiusService that owns the given cache.
// A nil cache gets the default TTL and size threshold.
func NewImpactRadiusService(
	nodeRepo repositories.GraphNodeRepository,
	edgeRepo repositories.GraphEdgeRepository,
	cache *ImpactCache,
	logger *zap.Logger,
) ImpactRadiusService {
	if cache == nil {
		cache = NewImpactCache(0, 0)
	}
	return &impactRadiusService{
		nodeRepo: nodeRepo,
		edgeRepo: edgeRepo,
		cache:    cache,
		now:      time.Now,
		logger:   logger.Named("impact-radius-service"),
	}
}

var _ ImpactRadiusService = (*impactRadiusService)(nil)

func (s *impactRadiusService) Compute(ctx context.Context, orgID, startNodeID uuid.UUID, opts models.ImpactRadiusOptions) (*models.ImpactRadiusResult, error) {
	opts = normalizeImpactOptions(opts)
	key := impactCacheKey(orgID, startNodeID, opts)

	return s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*models.ImpactRadiusResult, error) {
		return s.compute(ctx, orgID, startNodeID, opts)
	})
}

func (s *impactRadiusService) compute(ctx context.Context, orgID, startNodeID uuid.UUID, opts models.ImpactRadiusOptions) (*models.ImpactRadiusResult, error) {
	ctx, span := tracer.Start(ctx, "ImpactRadiusService.Compute",
		trace.WithAttributes(
			attribute.String("org_id", orgID.String()),
			attribute.String("start_node_id", startNodeID.String()),
			attribute.Int("max_depth", opts.MaxDepth),
			attribute.String("direction", string(opts.Direction)),
		))
	defer span.End()

	if _, err := s.nodeRepo.GetByID(ctx, orgID, startNodeID); err != nil {
		return nil, err
	}

	nodeIDs, edges, err := s.expand(ctx, orgID, startNodeID, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	nodes, err := s.nodeRepo.GetByIDs(ctx, orgID, nodeIDs)
	if err != nil {
		return nil, err
	}

	nodes, edges = filterByNodeTypes(nodes, edges, opts.IncludeTypes)
	now := s.now()

	result := &models.ImpactRadiusResult{
		OrgID:       orgID,
		StartNodeID: startNodeID,
		Options:     opts,
		Nodes:       nodes,
		Edges:       edges,
		Summary:     summarizeImpact(nodes, edges, now),
		Hotspots:    hotspots(nodes),
		ComputedAt:  now,
	}

	span.SetAttributes(
		attribute.Int("nodes", len(nodes)),
		attribute.Int("edges", len(edges)),
	)
	s.logger.Debug("Impact radius computed",
		zap.String("org_id", orgID.String()),
		zap.String("start_node_id", startNodeID.String()),
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(edges)))

	return result, nil
}

// expand walks the graph level by level in the requested direction.
// It fails as soon as either cap would be exceeded.
func (s *impactRadiusService) expand(ctx context.Context, orgID, startNodeID uuid.UUID, opts models.ImpactRadiusOptions) ([]uuid.UUID, []*models.GraphEdge, error) {
	visited := map[uuid.UUID]struct{}{startNodeID: {}}
	nodeIDs := []uuid.UUID{startNodeID}
	var edges []*models.GraphEdge
	var edgeIDs []uuid.UUID

	frontier := []uuid.UUID{startNodeID}
	for level := 0; level < opts.MaxDepth && len(frontier) > 0; level++ {
		remaining := ImpactMaxEdges - len(edges)
		batch, err := s.edgeRepo.ListAdjacent(ctx, orgID, models.AdjacencyQuery{
			NodeIDs:        frontier,
			Direction:      opts.Direction,
			EdgeTypes:      opts.EdgeTypes,
			ExcludeEdgeIDs: edgeIDs,
			Limit:          remaining + 1,
		})
		if err != nil {
			return nil, nil, err
		}
		if len(batch) > remaining {
			return nil, nil, s.reject("edges", orgID, ImpactMaxEdges, opts)
		}

		inFrontier := make(map[uuid.UUID]struct{}, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = struct{}{}
		}

		var next []uuid.UUID
		for _, e := range batch {
			edges = append(edges, e)
			edgeIDs = append(edgeIDs, e.ID)

			for _, id := range reachedFrom(e, opts.Direction, inFrontier) {
				if _, seen := visited[id]; seen {
					continue
				}
				if len(nodeIDs) >= ImpactMaxNodes {
					return nil, nil, s.reject("nodes", orgID, ImpactMaxNodes, opts)
				}
				visited[id] = struct{}{}
				nodeIDs = append(nodeIDs, id)
				next = append(next, id)
			}
		}
		frontier = next
	}

	if edges == nil {
		edges = []*models.GraphEdge{}
	}
	return nodeIDs, edges, nil
}

// reachedFrom returns the endpoints an edge leads to from the frontier.
func reachedFrom(e *models.GraphEdge, dir models.Direction, frontier map[uuid.UUID]struct{}) []uuid.UUID {
	_, fromIn := frontier[e.FromNodeID]
	_, toIn := frontier[e.ToNodeID]
	var out []uuid.UUID
	switch dir {
	case models.DirectionOut:
		if fromIn {
			out = append(out, e.ToNodeID)
		}
	case models.DirectionIn:
		if toIn {
			out = append(out, e.FromNodeID)
		}
	default:
		if fromIn {
			out = append(out, e.ToNodeID)
		}
		if toIn {
			out = append(out, e.FromNodeID)
		}
	}
	return out
}

func (s *impactRadiusService) reject(capName string, orgID uuid.UUID, capValue int, opts models.ImpactRadiusOptions) error {
	metrics.ImpactRadiusRejectionsTotal.WithLabelValues(capName).Inc()
	s.logger.Warn("Impact radius over cap",
		zap.String("org_id", orgID.String()),
		zap.String("cap", capName),
		zap.Int("max", capValue),
		zap.Int("max_depth", opts.MaxDepth))
	return fmt.Errorf("%w: more than %d %s within depth %d", apperrors.ErrImpactRadiusTooLarge, capValue, capName, opts.MaxDepth)
}

// filterByNodeTypes keeps nodes of the given types and the edges between them.
// An empty type list keeps everything.
func filterByNodeTypes(nodes []*models.GraphNode, edges []*models.GraphEdge, types []models.NodeType) ([]*models.GraphNode, []*models.GraphEdge) {
	if len(types) == 0 {
		return nodes, edges
	}
	keepType := make(map[models.NodeType]struct{}, len(types))
	for _, t := range types {
		keepType[t] = struct{}{}
	}

	kept := make(map[uuid.UUID]struct{}, len(nodes))
	outNodes := make([]*models.GraphNode, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := keepType[n.Type]; ok {
			kept[n.ID] = struct{}{}
			outNodes = append(outNodes, n)
		}
	}

	outEdges := make([]*models.GraphEdge, 0, len(edges))
	for _, e := range edges {
		_, fromOK := kept[e.FromNodeID]
		_, toOK := kept[e.ToNodeID]
		if fromOK && toOK {
			outEdges = append(outEdges, e)
		}
	}
	return outNodes, outEdges
}

// isUnpaidInvoice reports whether an invoice's amount is at risk: an open billing
// status, or unpaid and past due even if the status has not caught up.
func isUnpaidInvoice(n *models.GraphNode, now time.Time) bool {
	status := n.NormalizedStatus()
	if status == "PAID" {
		return false
	}
	return statusIn(status, "SENT", "OVERDUE", "UNPAID") || n.IsOverdue(now)
}

func summarizeImpact(nodes []*models.GraphNode, edges []*models.GraphEdge, now time.Time) models.ImpactSummary {
	sum := models.ImpactSummary{
		NodeCount:        len(nodes),
		EdgeCount:        len(edges),
		EdgeCountsByType: make(map[models.EdgeType]int),
	}

	for _, n := range nodes {
		switch n.Type {
		case models.NodeTypeInvoice:
			if isUnpaidInvoice(n, now) && n.AmountCents != nil {
				sum.MoneyAtRiskCents += *n.AmountCents
			}
			if !IsTerminal(n) && (n.IsOverdue(now) || n.NormalizedStatus() == "OVERDUE") {
				sum.OverdueInvoices++
			}
		case models.NodeTypeWorkItem:
			if !IsTerminal(n) {
				sum.OpenWorkItems++
				if n.IsOverdue(now) {
					sum.OverdueWorkItems++
				}
			}
		case models.NodeTypeDeal:
			if !IsTerminal(n) && n.AmountCents != nil {
				sum.DealsAtRiskCents += *n.AmountCents
			}
		case models.NodeTypeCompany:
			sum.CompaniesTouched++
		case models.NodeTypeIncident:
			sum.IncidentsTouched++
		}
	}

	for _, e := range edges {
		sum.EdgeCountsByType[e.Type]++
	}

	if ranked := rankHotspots(nodes); len(ranked) > 0 {
		sum.HighestRiskNode = ranked[0]
	}
	return sum
}

// rankHotspots orders nodes by risk desc, due date asc (missing last),
// amount desc (missing last), then id.
func rankHotspots(nodes []*models.GraphNode) []*models.GraphNode {
	ranked := make([]*models.GraphNode, len(nodes))
	copy(ranked, nodes)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		switch {
		case a.DueAt != nil && b.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
			return a.DueAt.Before(*b.DueAt)
		case a.DueAt != nil && b.DueAt == nil:
			return true
		case a.DueAt == nil && b.DueAt != nil:
			return false
		}
		switch {
		case a.AmountCents != nil && b.AmountCents != nil && *a.AmountCents != *b.AmountCents:
			return *a.AmountCents > *b.AmountCents
		case a.AmountCents != nil && b.AmountCents == nil:
			return true
		case a.AmountCents == nil && b.AmountCents != nil:
			return false
		}
		return a.ID.String() < b.ID.String()
	})
	return ranked
}

func hotspots(nodes []*models.GraphNode) []models.Hotspot {
	ranked := rankHotspots(nodes)
	if len(ranked) > MaxHotspots {
		ranked = ranked[:MaxHotspots]
	}
	out := make([]models.Hotspot, 0, len(ranked))
	for _, n := range ranked {
		link, _ := models.DeeplinkFor(n.Type, n.EntityID)
		out = append(out, models.Hotspot{Node: n, Deeplink: link})
	}
	return out
}

func (s *impactRadiusService) Deeplink(ctx context.Context, orgID, nodeID uuid.UUID) (*models.Deeplink, error) {
	node, err := s.nodeRepo.GetByID(ctx, orgID, nodeID)
	if err != nil {
		return nil, err
	}
	link, ok := models.DeeplinkFor(node.Type, node.EntityID)
	if !ok {
		return nil, fmt.Errorf("%w: no route for node type %s", apperrors.ErrNotFound, node.Type)
	}
	return &link, nil
}
