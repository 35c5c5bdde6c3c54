package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/repositories"
)

// AdminContextFunc acquires a connection without org context.
type AdminContextFunc func(ctx context.Context) (context.Context, func(), error)

// RiskScheduler recomputes risk for every org with a graph on a fixed interval.
type RiskScheduler interface {
	// RunAll runs every org once. Returns how many orgs were computed.
	RunAll(ctx context.Context) int
	// Start runs immediately, then every interval, until ctx is cancelled.
	Start(ctx context.Context, interval time.Duration)
}

type riskScheduler struct {
	runner   RiskRunner
	nodeRepo repositories.GraphNodeRepository
	adminCtx AdminContextFunc
	logger   *zap.Logger
}

// NewRiskScheduler creates a RiskScheduler.
func NewRiskScheduler(
	runner RiskRunner,
	nodeRepo repositories.GraphNodeRepository,
	adminCtx AdminContextFunc,
	logger *zap.Logger,
) RiskScheduler {
	return &riskScheduler{
		runner:   runner,
		nodeRepo: nodeRepo,
		adminCtx: adminCtx,
		logger:   logger.Named("risk-scheduler"),
	}
}

var _ RiskScheduler = (*riskScheduler)(nil)

func (s *riskScheduler) Start(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Risk scheduler started", zap.Duration("interval", interval))

		s.RunAll(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Risk scheduler stopped")
				return
			case <-ticker.C:
				s.RunAll(ctx)
			}
		}
	}()
}

func (s *riskScheduler) RunAll(ctx context.Context) int {
	orgIDs, err := s.listOrgs(ctx)
	if err != nil {
		s.logger.Error("Risk scheduler: failed to list orgs", zap.Error(err))
		return 0
	}
	if len(orgIDs) == 0 {
		return 0
	}

	s.logger.Debug("Risk scheduler: computing orgs", zap.Int("count", len(orgIDs)))

	computed := 0
	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			return computed
		}

		_, err := s.runner.Run(ctx, orgID, models.RiskComputeOptions{})
		switch {
		case errors.Is(err, apperrors.ErrRiskRunInProgress):
			s.logger.Debug("Risk scheduler: org busy, skipping",
				zap.String("org_id", orgID.String()))
		case err != nil:
			s.logger.Error("Risk scheduler: failed to compute org",
				zap.String("org_id", orgID.String()),
				zap.Error(err))
		default:
			computed++
		}
	}
	return computed
}

func (s *riskScheduler) listOrgs(ctx context.Context) ([]uuid.UUID, error) {
	actx, cleanup, err := s.adminCtx(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return s.nodeRepo.ListOrgIDs(actx)
}
