package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

// RiskHandler serves org risk snapshots and on-demand recomputes.
// The risk service opens its own tenant scopes, so these routes only need auth.
type RiskHandler struct {
	riskService services.RiskService
	runner      services.RiskRunner
	logger      *zap.Logger
}

// NewRiskHandler creates a new RiskHandler.
func NewRiskHandler(riskService services.RiskService, runner services.RiskRunner, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{
		riskService: riskService,
		runner:      runner,
		logger:      logger,
	}
}

// RegisterRoutes registers the risk handler's routes on the given mux.
func (h *RiskHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/orgs/{oid}/risk"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuthWithPathValidation("oid")(h.Get))
	mux.HandleFunc("GET "+base+"/why", authMiddleware.RequireAuthWithPathValidation("oid")(h.Why))
	mux.HandleFunc("POST "+base+"/recompute", authMiddleware.RequireAuthWithPathValidation("oid")(h.Recompute))
}

// Get handles GET /api/orgs/{oid}/risk
func (h *RiskHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	overview, err := h.riskService.GetLatestRisk(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err, "get org risk", h.logger, zap.String("org_id", orgID.String()))
		return
	}

	writeData(w, http.StatusOK, overview, h.logger)
}

// Why handles GET /api/orgs/{oid}/risk/why
func (h *RiskHandler) Why(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	why, err := h.riskService.GetRiskWhy(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err, "get risk drivers", h.logger, zap.String("org_id", orgID.String()))
		return
	}

	writeData(w, http.StatusOK, why, h.logger)
}

type recomputeRequest struct {
	MaxNodes int `json:"max_nodes"`
}

// Recompute handles POST /api/orgs/{oid}/risk/recompute
// An empty body runs with the default node bound.
func (h *RiskHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	var req recomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid_request", "Invalid request body", h.logger)
		return
	}
	if req.MaxNodes < 0 {
		badRequest(w, "invalid_parameters", "max_nodes must be a non-negative integer", h.logger)
		return
	}

	snapshot, err := h.runner.Run(r.Context(), orgID, models.RiskComputeOptions{MaxNodes: req.MaxNodes})
	if err != nil {
		writeServiceError(w, err, "recompute risk", h.logger, zap.String("org_id", orgID.String()))
		return
	}

	h.logger.Info("Risk recomputed on request",
		zap.String("org_id", orgID.String()),
		zap.Int("risk_score", snapshot.RiskScore),
		zap.Int("nodes_changed", snapshot.Meta.NodesChanged))

	writeData(w, http.StatusOK, snapshot, h.logger)
}
