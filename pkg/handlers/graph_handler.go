package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

// GraphHandler serves graph reads, traversals, and the entity sync write path.
type GraphHandler struct {
	graphService services.GraphService
	logger       *zap.Logger
}

// NewGraphHandler creates a new GraphHandler.
func NewGraphHandler(graphService services.GraphService, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{
		graphService: graphService,
		logger:       logger,
	}
}

// RegisterRoutes registers the graph handler's routes on the given mux.
func (h *GraphHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/orgs/{oid}/graph"
	scoped := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireAuthWithPathValidation("oid")(tenantMiddleware(next))
	}

	mux.HandleFunc("GET "+base+"/nodes", scoped(h.ListNodes))
	mux.HandleFunc("GET "+base+"/nodes/{nid}", scoped(h.GetNode))
	mux.HandleFunc("GET "+base+"/nodes/{nid}/traverse", scoped(h.Traverse))
	mux.HandleFunc("GET "+base+"/edges", scoped(h.ListEdges))
	mux.HandleFunc("PUT "+base+"/nodes", scoped(h.UpsertNode))
	mux.HandleFunc("PUT "+base+"/edges", scoped(h.UpsertEdge))
	mux.HandleFunc("DELETE "+base+"/nodes/{type}/{entityId}", scoped(h.DeleteNode))
}

type nodeListResponse struct {
	Nodes  []*models.GraphNode `json:"nodes"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type edgeListResponse struct {
	Edges  []*models.GraphEdge `json:"edges"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListNodes handles GET /api/orgs/{oid}/graph/nodes?type=&q=&limit=&offset=
func (h *GraphHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	types, ok := queryNodeTypes(w, r, "type", h.logger)
	if !ok {
		return
	}
	page, ok := queryPage(w, r, h.logger)
	if !ok {
		return
	}

	filters := models.NodeFilters{
		Types: types,
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
		Page:  page.Normalize(),
	}
	nodes, total, err := h.graphService.ListNodes(r.Context(), orgID, filters)
	if err != nil {
		writeServiceError(w, err, "list nodes", h.logger, zap.String("org_id", orgID.String()))
		return
	}

	writeData(w, http.StatusOK, nodeListResponse{
		Nodes:  nonNil(nodes),
		Total:  total,
		Limit:  filters.Page.Limit,
		Offset: filters.Page.Offset,
	}, h.logger)
}

// GetNode handles GET /api/orgs/{oid}/graph/nodes/{nid}
func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, ok := ParseOrgAndNodeIDs(w, r, h.logger)
	if !ok {
		return
	}

	detail, err := h.graphService.GetNode(r.Context(), orgID, nodeID)
	if err != nil {
		writeServiceError(w, err, "get node", h.logger,
			zap.String("org_id", orgID.String()),
			zap.String("node_id", nodeID.String()))
		return
	}

	writeData(w, http.StatusOK, detail, h.logger)
}

// Traverse handles GET /api/orgs/{oid}/graph/nodes/{nid}/traverse?max_depth=&edge_types=
func (h *GraphHandler) Traverse(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, ok := ParseOrgAndNodeIDs(w, r, h.logger)
	if !ok {
		return
	}
	depth, ok := queryInt(w, r, "max_depth", h.logger)
	if !ok {
		return
	}
	edgeTypes, ok := queryEdgeTypes(w, r, "edge_types", h.logger)
	if !ok {
		return
	}

	subgraph, err := h.graphService.Traverse(r.Context(), orgID, nodeID, services.TraverseOptions{
		MaxDepth:  depth,
		EdgeTypes: edgeTypes,
	})
	if err != nil {
		writeServiceError(w, err, "traverse graph", h.logger,
			zap.String("org_id", orgID.String()),
			zap.String("node_id", nodeID.String()))
		return
	}

	writeData(w, http.StatusOK, subgraph, h.logger)
}

// ListEdges handles GET /api/orgs/{oid}/graph/edges?type=&from=&to=&node=&limit=&offset=
func (h *GraphHandler) ListEdges(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	types, ok := queryEdgeTypes(w, r, "type", h.logger)
	if !ok {
		return
	}
	from, ok := queryUUID(w, r, "from", h.logger)
	if !ok {
		return
	}
	to, ok := queryUUID(w, r, "to", h.logger)
	if !ok {
		return
	}
	node, ok := queryUUID(w, r, "node", h.logger)
	if !ok {
		return
	}
	page, ok := queryPage(w, r, h.logger)
	if !ok {
		return
	}

	filters := models.EdgeFilters{
		Types:      types,
		FromNodeID: from,
		ToNodeID:   to,
		NodeID:     node,
		Page:       page.Normalize(),
	}
	edges, total, err := h.graphService.ListEdges(r.Context(), orgID, filters)
	if err != nil {
		writeServiceError(w, err, "list edges", h.logger, zap.String("org_id", orgID.String()))
		return
	}

	writeData(w, http.StatusOK, edgeListResponse{
		Edges:  nonNil(edges),
		Total:  total,
		Limit:  filters.Page.Limit,
		Offset: filters.Page.Offset,
	}, h.logger)
}

type upsertNodeRequest struct {
	Type        string     `json:"type"`
	EntityID    string     `json:"entity_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	AmountCents *int64     `json:"amount_cents"`
	Currency    *string    `json:"currency"`
	DueAt       *time.Time `json:"due_at"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

// UpsertNode handles PUT /api/orgs/{oid}/graph/nodes
func (h *GraphHandler) UpsertNode(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	var req upsertNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid_request", "Invalid request body", h.logger)
		return
	}

	node, err := h.graphService.UpsertNode(r.Context(), orgID, &models.GraphNode{
		Type:        models.NodeType(req.Type),
		EntityID:    req.EntityID,
		Title:       req.Title,
		Status:      req.Status,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		DueAt:       req.DueAt,
		OccurredAt:  req.OccurredAt,
	})
	if err != nil {
		writeServiceError(w, err, "upsert node", h.logger,
			zap.String("org_id", orgID.String()),
			zap.String("entity_id", req.EntityID))
		return
	}

	writeData(w, http.StatusOK, node, h.logger)
}

type upsertEdgeRequest struct {
	FromNodeID uuid.UUID `json:"from_node_id"`
	ToNodeID   uuid.UUID `json:"to_node_id"`
	Type       string    `json:"type"`
	// Weight defaults to 1 when omitted.
	Weight *float64 `json:"weight"`
}

// UpsertEdge handles PUT /api/orgs/{oid}/graph/edges
func (h *GraphHandler) UpsertEdge(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	var req upsertEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid_request", "Invalid request body", h.logger)
		return
	}
	weight := 1.0
	if req.Weight != nil {
		weight = *req.Weight
	}

	edge, err := h.graphService.UpsertEdge(r.Context(), orgID, &models.GraphEdge{
		FromNodeID: req.FromNodeID,
		ToNodeID:   req.ToNodeID,
		Type:       models.EdgeType(req.Type),
		Weight:     weight,
	})
	if err != nil {
		writeServiceError(w, err, "upsert edge", h.logger, zap.String("org_id", orgID.String()))
		return
	}

	writeData(w, http.StatusOK, edge, h.logger)
}

// DeleteNode handles DELETE /api/orgs/{oid}/graph/nodes/{type}/{entityId}
func (h *GraphHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	nodeType := models.NodeType(strings.ToUpper(r.PathValue("type")))
	entityID := r.PathValue("entityId")

	if err := h.graphService.DeleteNodeByEntity(r.Context(), orgID, nodeType, entityID); err != nil {
		writeServiceError(w, err, "delete node", h.logger,
			zap.String("org_id", orgID.String()),
			zap.String("entity_id", entityID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
