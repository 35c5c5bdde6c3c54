package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

// ImpactHandler serves impact radius queries and node deeplinks.
type ImpactHandler struct {
	impactService services.ImpactRadiusService
	logger        *zap.Logger
}

// NewImpactHandler creates a new ImpactHandler.
func NewImpactHandler(impactService services.ImpactRadiusService, logger *zap.Logger) *ImpactHandler {
	return &ImpactHandler{
		impactService: impactService,
		logger:        logger,
	}
}

// RegisterRoutes registers the impact handler's routes on the given mux.
func (h *ImpactHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/orgs/{oid}/graph/nodes/{nid}"

	mux.HandleFunc("GET "+base+"/impact",
		authMiddleware.RequireAuthWithPathValidation("oid")(tenantMiddleware(h.Impact)))
	mux.HandleFunc("GET "+base+"/deeplink",
		authMiddleware.RequireAuthWithPathValidation("oid")(tenantMiddleware(h.Deeplink)))
}

// Impact handles GET /api/orgs/{oid}/graph/nodes/{nid}/impact?max_depth=&direction=&edge_types=&include_types=
func (h *ImpactHandler) Impact(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, ok := ParseOrgAndNodeIDs(w, r, h.logger)
	if !ok {
		return
	}
	depth, ok := queryInt(w, r, "max_depth", h.logger)
	if !ok {
		return
	}
	direction, err := models.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		badRequest(w, "invalid_parameters", err.Error(), h.logger)
		return
	}
	edgeTypes, ok := queryEdgeTypes(w, r, "edge_types", h.logger)
	if !ok {
		return
	}
	includeTypes, ok := queryNodeTypes(w, r, "include_types", h.logger)
	if !ok {
		return
	}

	result, err := h.impactService.Compute(r.Context(), orgID, nodeID, models.ImpactRadiusOptions{
		MaxDepth:     depth,
		Direction:    direction,
		EdgeTypes:    edgeTypes,
		IncludeTypes: includeTypes,
	})
	if err != nil {
		writeServiceError(w, err, "compute impact radius", h.logger,
			zap.String("org_id", orgID.String()),
			zap.String("node_id", nodeID.String()))
		return
	}

	writeData(w, http.StatusOK, result, h.logger)
}

// Deeplink handles GET /api/orgs/{oid}/graph/nodes/{nid}/deeplink
func (h *ImpactHandler) Deeplink(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, ok := ParseOrgAndNodeIDs(w, r, h.logger)
	if !ok {
		return
	}

	link, err := h.impactService.Deeplink(r.Context(), orgID, nodeID)
	if err != nil {
		writeServiceError(w, err, "resolve deeplink", h.logger,
			zap.String("org_id", orgID.String()),
			zap.String("node_id", nodeID.String()))
		return
	}

	writeData(w, http.StatusOK, link, h.logger)
}
