package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/leaselock"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/repositories"
)

// memGraph is an in-memory graph store shared by the node and edge repository mocks.
type memGraph struct {
	mu       sync.Mutex
	nodes    map[uuid.UUID]*models.GraphNode
	byEntity map[string]uuid.UUID
	edges    map[uuid.UUID]*models.GraphEdge
	edgeKeys map[string]uuid.UUID
	clock    time.Time

	// Observations and injected failures.
	recentLimit     int
	riskBatches     []int
	adjacentCalls   int
	updateRiskErr   error
	listRecentErr   error
	listAdjacentErr error
}

func newMemGraph() *memGraph {
	return &memGraph{
		nodes:    make(map[uuid.UUID]*models.GraphNode),
		byEntity: make(map[string]uuid.UUID),
		edges:    make(map[uuid.UUID]*models.GraphEdge),
		edgeKeys: make(map[string]uuid.UUID),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so creation order is observable.
func (g *memGraph) tick() time.Time {
	g.clock = g.clock.Add(time.Millisecond)
	return g.clock
}

func entityKey(orgID uuid.UUID, t models.NodeType, entityID string) string {
	return orgID.String() + "|" + string(t) + "|" + entityID
}

func copyNode(n *models.GraphNode) *models.GraphNode {
	c := *n
	return &c
}

func copyEdge(e *models.GraphEdge) *models.GraphEdge {
	c := *e
	return &c
}

func sortNodesByCreated(nodes []*models.GraphNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
}

func paginate[T any](items []T, page models.Page) []T {
	page = page.Normalize()
	if page.Offset >= len(items) {
		return []T{}
	}
	end := min(page.Offset+page.Limit, len(items))
	return items[page.Offset:end]
}

type memNodeRepo struct{ g *memGraph }

var _ repositories.GraphNodeRepository = (*memNodeRepo)(nil)

func (r *memNodeRepo) Upsert(ctx context.Context, node *models.GraphNode) error {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()

	now := r.g.tick()
	key := entityKey(node.OrgID, node.Type, node.EntityID)
	if id, ok := r.g.byEntity[key]; ok {
		stored := r.g.nodes[id]
		risk, created := stored.RiskScore, stored.CreatedAt
		*stored = *node
		stored.ID = id
		stored.RiskScore = risk
		stored.CreatedAt = created
		stored.UpdatedAt = now
		*node = *stored
		return nil
	}

	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	node.RiskScore = 0
	node.CreatedAt = now
	node.UpdatedAt = now
	r.g.nodes[node.ID] = copyNode(node)
	r.g.byEntity[key] = node.ID
	return nil
}

func (r *memNodeRepo) GetByID(ctx context.Context, orgID, nodeID uuid.UUID) (*models.GraphNode, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	n, ok := r.g.nodes[nodeID]
	if !ok || n.OrgID != orgID {
		return nil, apperrors.ErrNotFound
	}
	return copyNode(n), nil
}

func (r *memNodeRepo) GetByIDs(ctx context.Context, orgID uuid.UUID, nodeIDs []uuid.UUID) ([]*models.GraphNode, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	seen := make(map[uuid.UUID]struct{}, len(nodeIDs))
	out := []*models.GraphNode{}
	for _, id := range nodeIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if n, ok := r.g.nodes[id]; ok && n.OrgID == orgID {
			out = append(out, copyNode(n))
		}
	}
	sortNodesByCreated(out)
	return out, nil
}

func (r *memNodeRepo) List(ctx context.Context, orgID uuid.UUID, filters models.NodeFilters) ([]*models.GraphNode, int, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	var matched []*models.GraphNode
	q := strings.ToLower(filters.Query)
	for _, n := range r.g.nodes {
		if n.OrgID != orgID {
			continue
		}
		if len(filters.Types) > 0 && !containsType(filters.Types, n.Type) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(n.Title), q) && !strings.Contains(strings.ToLower(n.EntityID), q) {
			continue
		}
		matched = append(matched, copyNode(n))
	}
	sortNodesByCreated(matched)
	return paginate(matched, filters.Page), len(matched), nil
}

func containsType[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (r *memNodeRepo) ListRecentlyUpdated(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.GraphNode, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	r.g.recentLimit = limit
	if r.g.listRecentErr != nil {
		return nil, r.g.listRecentErr
	}
	var out []*models.GraphNode
	for _, n := range r.g.nodes {
		if n.OrgID == orgID {
			out = append(out, copyNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memNodeRepo) ListAmountPercentiles(ctx context.Context, orgID uuid.UUID, types []models.NodeType) (map[uuid.UUID]models.AmountPercentile, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	byType := make(map[models.NodeType][]*models.GraphNode)
	for _, n := range r.g.nodes {
		if n.OrgID == orgID && containsType(types, n.Type) && n.AmountCents != nil && *n.AmountCents > 0 {
			byType[n.Type] = append(byType[n.Type], n)
		}
	}
	out := make(map[uuid.UUID]models.AmountPercentile)
	for _, peers := range byType {
		for _, n := range peers {
			rank := 0
			for _, other := range peers {
				if *other.AmountCents < *n.AmountCents {
					rank++
				}
			}
			out[n.ID] = models.AmountPercentile{Rank: rank, Count: len(peers)}
		}
	}
	return out, nil
}

func (r *memNodeRepo) UpdateRiskScores(ctx context.Context, orgID uuid.UUID, updates []models.RiskScoreUpdate) error {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	if r.g.updateRiskErr != nil {
		return r.g.updateRiskErr
	}
	r.g.riskBatches = append(r.g.riskBatches, len(updates))
	for _, u := range updates {
		if n, ok := r.g.nodes[u.NodeID]; ok && n.OrgID == orgID {
			n.RiskScore = u.RiskScore
		}
	}
	return nil
}

func (r *memNodeRepo) DeleteByEntity(ctx context.Context, orgID uuid.UUID, nodeType models.NodeType, entityID string) error {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	key := entityKey(orgID, nodeType, entityID)
	id, ok := r.g.byEntity[key]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(r.g.byEntity, key)
	delete(r.g.nodes, id)
	for eid, e := range r.g.edges {
		if e.FromNodeID == id || e.ToNodeID == id {
			delete(r.g.edges, eid)
			delete(r.g.edgeKeys, edgeKey(e))
		}
	}
	return nil
}

func (r *memNodeRepo) ListOrgIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, n := range r.g.nodes {
		if _, ok := seen[n.OrgID]; !ok {
			seen[n.OrgID] = struct{}{}
			out = append(out, n.OrgID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// setRisk overwrites a stored risk score directly.
func (r *memNodeRepo) setRisk(nodeID uuid.UUID, risk int) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	r.g.nodes[nodeID].RiskScore = risk
}

func (r *memNodeRepo) risk(nodeID uuid.UUID) int {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	return r.g.nodes[nodeID].RiskScore
}

type memEdgeRepo struct{ g *memGraph }

func edgeKey(e *models.GraphEdge) string {
	return e.OrgID.String() + "|" + e.FromNodeID.String() + "|" + e.ToNodeID.String() + "|" + string(e.Type)
}

var _ repositories.GraphEdgeRepository = (*memEdgeRepo)(nil)

func (r *memEdgeRepo) Upsert(ctx context.Context, edge *models.GraphEdge) error {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()

	from, fromOK := r.g.nodes[edge.FromNodeID]
	to, toOK := r.g.nodes[edge.ToNodeID]
	if !fromOK || !toOK || from.OrgID != edge.OrgID || to.OrgID != edge.OrgID {
		return apperrors.ErrNotFound
	}

	if id, ok := r.g.edgeKeys[edgeKey(edge)]; ok {
		stored := r.g.edges[id]
		stored.Weight = edge.Weight
		edge.ID = stored.ID
		edge.CreatedAt = stored.CreatedAt
		return nil
	}

	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	edge.CreatedAt = r.g.tick()
	r.g.edges[edge.ID] = copyEdge(edge)
	r.g.edgeKeys[edgeKey(edge)] = edge.ID
	return nil
}

func (r *memEdgeRepo) sorted(match func(e *models.GraphEdge) bool) []*models.GraphEdge {
	var out []*models.GraphEdge
	for _, e := range r.g.edges {
		if match(e) {
			out = append(out, copyEdge(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return models.EdgeLess(out[i], out[j]) })
	return out
}

func (r *memEdgeRepo) List(ctx context.Context, orgID uuid.UUID, filters models.EdgeFilters) ([]*models.GraphEdge, int, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	matched := r.sorted(func(e *models.GraphEdge) bool {
		if e.OrgID != orgID {
			return false
		}
		if len(filters.Types) > 0 && !containsType(filters.Types, e.Type) {
			return false
		}
		if filters.FromNodeID != nil && e.FromNodeID != *filters.FromNodeID {
			return false
		}
		if filters.ToNodeID != nil && e.ToNodeID != *filters.ToNodeID {
			return false
		}
		if filters.NodeID != nil && e.FromNodeID != *filters.NodeID && e.ToNodeID != *filters.NodeID {
			return false
		}
		return true
	})
	return paginate(matched, filters.Page), len(matched), nil
}

func (r *memEdgeRepo) ListIncident(ctx context.Context, orgID, nodeID uuid.UUID, limit int) ([]*models.GraphEdge, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	out := r.sorted(func(e *models.GraphEdge) bool {
		return e.OrgID == orgID && (e.FromNodeID == nodeID || e.ToNodeID == nodeID)
	})
	sort.SliceStable(out, func(i, j int) bool { return models.EdgeLess(out[j], out[i]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memEdgeRepo) ListAdjacent(ctx context.Context, orgID uuid.UUID, q models.AdjacencyQuery) ([]*models.GraphEdge, error) {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	r.g.adjacentCalls++
	if r.g.listAdjacentErr != nil {
		return nil, r.g.listAdjacentErr
	}

	frontier := make(map[uuid.UUID]struct{}, len(q.NodeIDs))
	for _, id := range q.NodeIDs {
		frontier[id] = struct{}{}
	}
	excluded := make(map[uuid.UUID]struct{}, len(q.ExcludeEdgeIDs))
	for _, id := range q.ExcludeEdgeIDs {
		excluded[id] = struct{}{}
	}

	out := r.sorted(func(e *models.GraphEdge) bool {
		if e.OrgID != orgID {
			return false
		}
		if _, skip := excluded[e.ID]; skip {
			return false
		}
		if len(q.EdgeTypes) > 0 && !containsType(q.EdgeTypes, e.Type) {
			return false
		}
		_, fromIn := frontier[e.FromNodeID]
		_, toIn := frontier[e.ToNodeID]
		switch q.Direction {
		case models.DirectionOut:
			return fromIn
		case models.DirectionIn:
			return toIn
		default:
			return fromIn || toIn
		}
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type memSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]map[time.Time]models.RiskSnapshot
	upsertErr error
}

func newMemSnapshotRepo() *memSnapshotRepo {
	return &memSnapshotRepo{snapshots: make(map[uuid.UUID]map[time.Time]models.RiskSnapshot)}
}

var _ repositories.RiskSnapshotRepository = (*memSnapshotRepo)(nil)

func (r *memSnapshotRepo) Upsert(ctx context.Context, snapshot *models.RiskSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	snapshot.AsOfDate = models.AsOfDate(snapshot.AsOfDate)
	if r.snapshots[snapshot.OrgID] == nil {
		r.snapshots[snapshot.OrgID] = make(map[time.Time]models.RiskSnapshot)
	}
	r.snapshots[snapshot.OrgID][snapshot.AsOfDate] = *snapshot
	return nil
}

func (r *memSnapshotRepo) GetLatest(ctx context.Context, orgID uuid.UUID) (*models.RiskSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.RiskSnapshot
	for day, s := range r.snapshots[orgID] {
		if latest == nil || day.After(latest.AsOfDate) {
			s := s
			latest = &s
		}
	}
	if latest == nil {
		return nil, apperrors.ErrNotFound
	}
	return latest, nil
}

func (r *memSnapshotRepo) GetByDate(ctx context.Context, orgID uuid.UUID, asOfDate time.Time) (*models.RiskSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[orgID][models.AsOfDate(asOfDate)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &s, nil
}

// passthroughTenantContext satisfies TenantContextFunc for in-memory repositories.
func passthroughTenantContext(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

type fakeConsumer struct {
	name  string
	err   error
	calls int
	got   models.Drivers
	date  time.Time
}

func (c *fakeConsumer) Name() string { return c.name }

func (c *fakeConsumer) ConsumeDrivers(ctx context.Context, orgID uuid.UUID, asOfDate time.Time, drivers models.Drivers) error {
	c.calls++
	c.got = drivers
	c.date = asOfDate
	return c.err
}

var errStoreDown = errors.New("store down")

// graphFixture builds org-scoped nodes and edges against an in-memory store.
type graphFixture struct {
	orgID uuid.UUID
	graph *memGraph
	nodes *memNodeRepo
	edges *memEdgeRepo
}

func newGraphFixture() *graphFixture {
	g := newMemGraph()
	return &graphFixture{
		orgID: uuid.New(),
		graph: g,
		nodes: &memNodeRepo{g: g},
		edges: &memEdgeRepo{g: g},
	}
}

func (f *graphFixture) node(t models.NodeType, entityID, status string, mutate ...func(n *models.GraphNode)) *models.GraphNode {
	n := &models.GraphNode{OrgID: f.orgID, Type: t, EntityID: entityID, Title: entityID, Status: status}
	for _, m := range mutate {
		m(n)
	}
	if err := f.nodes.Upsert(context.Background(), n); err != nil {
		panic(err)
	}
	return n
}

func (f *graphFixture) edge(from, to *models.GraphNode, t models.EdgeType, weight float64) *models.GraphEdge {
	e := &models.GraphEdge{OrgID: f.orgID, FromNodeID: from.ID, ToNodeID: to.ID, Type: t, Weight: weight}
	if err := f.edges.Upsert(context.Background(), e); err != nil {
		panic(err)
	}
	return e
}

func withAmount(cents int64) func(n *models.GraphNode) {
	return func(n *models.GraphNode) { n.AmountCents = &cents }
}

func withDue(due time.Time) func(n *models.GraphNode) {
	return func(n *models.GraphNode) { n.DueAt = &due }
}
