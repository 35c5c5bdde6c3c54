package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

// mockGraphService implements services.GraphService for testing.
type mockGraphService struct {
	nodes    []*models.GraphNode
	edges    []*models.GraphEdge
	total    int
	detail   *models.NodeDetail
	subgraph *models.Subgraph
	err      error

	lastNodeFilters models.NodeFilters
	lastEdgeFilters models.EdgeFilters
	lastTraverse    services.TraverseOptions
	upsertedNode    *models.GraphNode
	upsertedEdge    *models.GraphEdge
	deletedType     models.NodeType
	deletedEntity   string
}

func (m *mockGraphService) ListNodes(ctx context.Context, orgID uuid.UUID, filters models.NodeFilters) ([]*models.GraphNode, int, error) {
	m.lastNodeFilters = filters
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.nodes, m.total, nil
}

func (m *mockGraphService) ListEdges(ctx context.Context, orgID uuid.UUID, filters models.EdgeFilters) ([]*models.GraphEdge, int, error) {
	m.lastEdgeFilters = filters
	if m.err != nil {
		return nil, 0, m.err
	}
	return m.edges, m.total, nil
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
	m.upsertedNode = node
	if m.err != nil {
		return nil, m.err
	}
	stored := *node
	stored.ID = uuid.New()
	stored.OrgID = orgID
	return &stored, nil
}

func (m *mockGraphService) UpsertEdge(ctx context.Context, orgID uuid.UUID, edge *models.GraphEdge) (*models.GraphEdge, error) {
	m.upsertedEdge = edge
	if m.err != nil {
		return nil, m.err
	}
	stored := *edge
	stored.ID = uuid.New()
	stored.OrgID = orgID
	return &stored, nil
}

func (m *mockGraphService) DeleteNodeByEntity(ctx context.Context, orgID uuid.UUID, nodeType models.NodeType, entityID string) error {
	m.deletedType = nodeType
	m.deletedEntity = entityID
	return m.err
}

// mockImpactService implements services.ImpactRadiusService for testing.
type mockImpactService struct {
	result   *models.ImpactRadiusResult
	link     *models.Deeplink
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
	if m.err != nil {
		return nil, m.err
	}
	return m.link, nil
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

// orgAuthService accepts every request as the given org.
type orgAuthService struct {
	orgID string
}

func (s *orgAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if r.Header.Get("Authorization") == "" {
		return nil, "", auth.ErrMissingAuthorization
	}
	return &auth.Claims{OrgID: s.orgID}, "test-token", nil
}

func (s *orgAuthService) RequireOrgID(claims *auth.Claims) error {
	if claims.OrgID == "" {
		return auth.ErrMissingOrgID
	}
	return nil
}

func (s *orgAuthService) ValidateOrgIDMatch(claims *auth.Claims, urlOrgID string) error {
	if urlOrgID != "" && urlOrgID != claims.OrgID {
		return auth.ErrOrgIDMismatch
	}
	return nil
}

// passthroughTenant stands in for database.WithTenantContext.
func passthroughTenant(next http.HandlerFunc) http.HandlerFunc {
	return next
}
