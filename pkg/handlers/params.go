package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// TenantMiddleware wraps a handler with a tenant-scoped database connection.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ParseOrgID extracts and validates the org ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: oid
func ParseOrgID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "oid", "invalid_org_id", "Invalid org ID format", logger)
}

// ParseNodeID extracts and validates the node ID from the request path.
// Expects path parameter: nid
func ParseNodeID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "nid", "invalid_node_id", "Invalid node ID format", logger)
}

// ParseOrgAndNodeIDs extracts and validates both org and node IDs.
// Expects path parameters: oid, nid
func ParseOrgAndNodeIDs(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, uuid.UUID, bool) {
	orgID, ok := ParseOrgID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	nodeID, ok := ParseNodeID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return orgID, nodeID, true
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		badRequest(w, errorCode, errorMessage, logger)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(w, "invalid_parameters", name+" must be a non-negative integer", logger)
		return 0, false
	}
	return v, true
}

// queryUUID reads an optional UUID query parameter.
func queryUUID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, "invalid_parameters", name+" must be a UUID", logger)
		return nil, false
	}
	return &id, true
}

func queryEdgeTypes(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) ([]models.EdgeType, bool) {
	types, err := models.ParseEdgeTypes(r.URL.Query().Get(name))
	if err != nil {
		badRequest(w, "invalid_parameters", err.Error(), logger)
		return nil, false
	}
	return types, true
}

func queryNodeTypes(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) ([]models.NodeType, bool) {
	types, err := models.ParseNodeTypes(r.URL.Query().Get(name))
	if err != nil {
		badRequest(w, "invalid_parameters", err.Error(), logger)
		return nil, false
	}
	return types, true
}

// queryPage reads limit and offset.
func queryPage(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (models.Page, bool) {
	limit, ok := queryInt(w, r, "limit", logger)
	if !ok {
		return models.Page{}, false
	}
	offset, ok := queryInt(w, r, "offset", logger)
	if !ok {
		return models.Page{}, false
	}
	return models.Page{Limit: limit, Offset: offset}, true
}

func badRequest(w http.ResponseWriter, code, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
