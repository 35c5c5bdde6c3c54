package tools

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

// mockGraphService implements services.GraphService for testing.
type mockGraphService struct {
	nodes        []*models.GraphNode
	detail       *models.NodeDetail
	subgraph     *models.Subgraph
	err          error
	lastFilters  models.NodeFilters
	lastTraverse services.TraverseOptions
}

func (m *mockGraphService) ListNodes(ctx context.Context, orgID uuid.UUID, filters models.NodeFilters) ([]*models.GraphNode, int, error) {
	m.lastFilters = filters
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.nodes, len(m.nodes), nil
}

func (m *mockGraphService) ListEdges(ctx context.Context, orgID uuid.UUID, filters models.EdgeFilters) ([]*models.GraphEdge, int, error) {
	return nil, 0, m.err
}

func (m *mockGraphService) GetNode(ctx context.Context, orgID, nodeID uuid.UUID) (*models.NodeDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.detail, nil
}

func (m *mockGraphService) Traverse(ctx context.Context, orgID, startNodeID uuid.UUID, opts services.TraverseOptions) (*models.Subgraph, error) {
	m.lastTraverse = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.subgraph, nil
}

func (m *mockGraphService) UpsertNode(ctx context.Context, orgID uuid.UUID, node *models.GraphNode) (*models.GraphNode, error) {
	return node, m.err
}

func (m *mockGraphService) UpsertEdge(ctx context.Context, orgID uuid.UUID, edge *models.GraphEdge) (*models.GraphEdge, error) {
	return edge, m.err
}

func (m *mockGraphService) DeleteNodeByEntity(ctx context.Context, orgID uuid.UUID, nodeType models.NodeType, entityID string) error {
	return m.err
}

// mockImpactService implements services.ImpactRadiusService for testing.
type mockImpactService struct {
	result   *models.ImpactRadiusResult
	err      error
	lastOpts models.ImpactRadiusOptions
}

func (m *mockImpactService) Compute(ctx context.Context, orgID, startNodeID uuid.UUID, opts models.ImpactRadiusOptions) (*models.ImpactRadiusResult, error) {
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockImpactService) Deeplink(ctx context.Context, orgID, nodeID uuid.UUID) (*models.Deeplink, error) {
	return nil, m.err
}

// mockRiskService implements services.RiskService for testing.
type mockRiskService struct {
	overview *models.RiskOverview
	why      *models.RiskWhy
	err      error
}

func (m *mockRiskService) Compute(ctx context.Context, orgID uuid.UUID, opts models.RiskComputeOptions) (*models.RiskSnapshot, error) {
	return nil, m.err
}

func (m *mockRiskService) GetLatestRisk(ctx context.Context, orgID uuid.UUID) (*models.RiskOverview, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.overview, nil
}

func (m *mockRiskService) GetRiskWhy(ctx context.Context, orgID uuid.UUID) (*models.RiskWhy, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.why, nil
}

// mockRiskRunner implements services.RiskRunner for testing.
type mockRiskRunner struct {
	snapshot *models.RiskSnapshot
	err      error
	lastOpts models.RiskComputeOptions
	runs     int
}

func (m *mockRiskRunner) Run(ctx context.Context, orgID uuid.UUID, opts models.RiskComputeOptions) (*models.RiskSnapshot, error) {
	m.runs++
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}
