package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
)

// acquireOrg resolves the calling org for a tool invocation.
// The org comes only from the authenticated token; tools never take it as an argument.
func acquireOrg(ctx context.Context, logger *zap.Logger, toolName string) (uuid.UUID, error) {
	orgID, err := auth.RequireOrgIDFromContext(ctx)
	if err != nil {
		logger.Warn("MCP tool called without org context", zap.String("tool", toolName))
		return uuid.Nil, fmt.Errorf("authentication required: %w", err)
	}
	logger.Debug("MCP tool invoked",
		zap.String("tool", toolName),
		zap.String("org_id", orgID.String()))
	return orgID, nil
}
