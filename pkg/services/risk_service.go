package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/leaselock"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/metrics"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/repositories"
)

var tracer = otel.Tracer("riskgraph/services")

// persistBatchSize bounds how many node scores one write touches.
const persistBatchSize = 200

// RiskService runs the risk propagation engine and serves its snapshots.
type RiskService interface {
	// Compute runs LOAD, SCORE_BASE, RELAX, PERSIST for one org and stores today's snapshot.
	// It never notifies downstream consumers; see RiskRunner.
	Compute(ctx context.Context, orgID uuid.UUID, opts models.RiskComputeOptions) (*models.RiskSnapshot, error)
	// GetLatestRisk returns the newest snapshot's score and day-over-day delta,
	// computing a first snapshot when the org has none.
	GetLatestRisk(ctx context.Context, orgID uuid.UUID) (*models.RiskOverview, error)
	// GetRiskWhy is GetLatestRisk plus the snapshot's drivers.
	GetRiskWhy(ctx context.Context, orgID uuid.UUID) (*models.RiskWhy, error)
}

// RunLocker serializes risk runs per org. *leaselock.Client satisfies it.
type RunLocker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// RiskServiceConfig bounds a risk run.
type RiskServiceConfig struct {
	DefaultMaxNodes int
	HardMaxNodes    int
	MaxEdges        int
	LeaseTTL        time.Duration
}

// DefaultRiskServiceConfig returns the standard run bounds.
func DefaultRiskServiceConfig() RiskServiceConfig {
	return RiskServiceConfig{
		DefaultMaxNodes: 2000,
		HardMaxNodes:    5000,
		MaxEdges:        15000,
		LeaseTTL:        5 * time.Minute,
	}
}

type riskService struct {
	nodeRepo     repositories.GraphNodeRepository
	edgeRepo     repositories.GraphEdgeRepository
	snapshotRepo repositories.RiskSnapshotRepository
	tenantCtx    TenantContextFunc
	locker       RunLocker
	cfg          RiskServiceConfig
	now          func() time.Time
	logger       *zap.Logger
}

// NewRiskService creates a RiskService. The service acquires its own org-scoped
// connections through tenantCtx because LOAD issues independent reads concurrently.
// locker may be nil, leaving run serialization to the caller.
func NewRiskService(
	nodeRepo repositories.GraphNodeRepository,
	edgeRepo repositories.GraphEdgeRepository,
	snapshotRepo repositories.RiskSnapshotRepository,
	tenantCtx TenantContextFunc,
	locker RunLocker,
	cfg RiskServiceConfig,
	logger *zap.Logger,
) RiskService {
	def := DefaultRiskServiceConfig()
	if cfg.HardMaxNodes <= 0 {
		cfg.HardMaxNodes = def.HardMaxNodes
	}
	if cfg.DefaultMaxNodes <= 0 || cfg.DefaultMaxNodes > cfg.HardMaxNodes {
		cfg.DefaultMaxNodes = min(def.DefaultMaxNodes, cfg.HardMaxNodes)
	}
	if cfg.MaxEdges <= 0 {
		cfg.MaxEdges = def.MaxEdges
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	return &riskService{
		nodeRepo:     nodeRepo,
		edgeRepo:     edgeRepo,
		snapshotRepo: snapshotRepo,
		tenantCtx:    tenantCtx,
		locker:       locker,
		cfg:          cfg,
		now:          time.Now,
		logger:       logger.Named("risk-service"),
	}
}

var _ RiskService = (*riskService)(nil)

// RiskRunLockKey is the lease key guarding an org's risk runs.
func RiskRunLockKey(orgID uuid.UUID) string {
	return "risk-run:" + orgID.String()
}

func (s *riskService) maxNodes(requested int) int {
	if requested <= 0 {
		return s.cfg.DefaultMaxNodes
	}
	return min(requested, s.cfg.HardMaxNodes)
}

func (s *riskService) Compute(ctx context.Context, orgID uuid.UUID, opts models.RiskComputeOptions) (*models.RiskSnapshot, error) {
	ctx, span := tracer.Start(ctx, "RiskService.Compute",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	start := time.Now()
	var snapshot *models.RiskSnapshot
	run := func(ctx context.Context) error {
		var err error
		snapshot, err = s.compute(ctx, orgID, s.maxNodes(opts.MaxNodes))
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLease(ctx, RiskRunLockKey(orgID), leaselock.Options{TTL: s.cfg.LeaseTTL}, run)
		if errors.Is(err, leaselock.ErrBusy) {
			err = apperrors.ErrRiskRunInProgress
		}
	} else {
		err = run(ctx)
	}

	switch {
	case errors.Is(err, apperrors.ErrRiskRunInProgress):
		metrics.RiskRunsTotal.WithLabelValues(metrics.ResultBusy).Inc()
		span.SetStatus(codes.Error, "run in progress")
		return nil, err
	case err != nil:
		metrics.RiskRunsTotal.WithLabelValues(metrics.ResultError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Risk computation failed",
			zap.String("org_id", orgID.String()),
			zap.Error(err))
		return nil, err
	}

	elapsed := time.Since(start)
	metrics.RiskRunsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.RiskRunDuration.Observe(elapsed.Seconds())
	metrics.RiskNodesChanged.Observe(float64(snapshot.Meta.NodesChanged))
	span.SetAttributes(
		attribute.Int("nodes_considered", snapshot.Meta.NodesConsidered),
		attribute.Int("edges_considered", snapshot.Meta.EdgesConsidered),
		attribute.Int("org_risk_score", snapshot.RiskScore),
	)

	s.logger.Info("Risk computation complete",
		zap.String("org_id", orgID.String()),
		zap.Int("risk_score", snapshot.RiskScore),
		zap.Int("nodes_considered", snapshot.Meta.NodesConsidered),
		zap.Int("edges_considered", snapshot.Meta.EdgesConsidered),
		zap.Int("nodes_changed", snapshot.Meta.NodesChanged),
		zap.Duration("duration", elapsed))

	return snapshot, nil
}

func (s *riskService) compute(ctx context.Context, orgID uuid.UUID, maxNodes int) (*models.RiskSnapshot, error) {
	now := s.now()

	// LOAD: nodes and amount percentiles are independent reads, each on its own connection.
	var nodes []*models.GraphNode
	var percentiles map[uuid.UUID]models.AmountPercentile

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tctx, cleanup, err := s.tenantCtx(gctx, orgID)
		if err != nil {
			return fmt.Errorf("failed to acquire tenant scope: %w", err)
		}
		defer cleanup()
		nodes, err = s.nodeRepo.ListRecentlyUpdated(tctx, orgID, maxNodes)
		return err
	})
	g.Go(func() error {
		tctx, cleanup, err := s.tenantCtx(gctx, orgID)
		if err != nil {
			return fmt.Errorf("failed to acquire tenant scope: %w", err)
		}
		defer cleanup()
		percentiles, err = s.nodeRepo.ListAmountPercentiles(tctx, orgID, amountRankedTypes)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tctx, cleanup, err := s.tenantCtx(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	nodeIDs := make([]uuid.UUID, len(nodes))
	for i, n := range nodes {
		nodeIDs[i] = n.ID
	}
	edges, err := s.edgeRepo.ListAdjacent(tctx, orgID, models.AdjacencyQuery{
		NodeIDs:   nodeIDs,
		Direction: models.DirectionBoth,
		Limit:     s.cfg.MaxEdges,
	})
	if err != nil {
		return nil, err
	}

	// SCORE_BASE + RELAX
	graph := newRiskGraph(nodes, edges, percentiles, now)
	graph.relax(RelaxRounds)

	// PERSIST
	updates := graph.changed()
	for startIdx := 0; startIdx < len(updates); startIdx += persistBatchSize {
		end := min(startIdx+persistBatchSize, len(updates))
		if err := s.nodeRepo.UpdateRiskScores(tctx, orgID, updates[startIdx:end]); err != nil {
			return nil, err
		}
	}

	snapshot := &models.RiskSnapshot{
		OrgID:     orgID,
		AsOfDate:  models.AsOfDate(now),
		RiskScore: graph.orgScore(),
		Drivers:   graph.drivers(),
		Meta: models.SnapshotMeta{
			NodesConsidered: len(graph.nodes),
			EdgesConsidered: len(graph.edges),
			NodesChanged:    len(updates),
		},
	}
	if err := s.snapshotRepo.Upsert(tctx, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (s *riskService) GetLatestRisk(ctx context.Context, orgID uuid.UUID) (*models.RiskOverview, error) {
	why, err := s.GetRiskWhy(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &why.RiskOverview, nil
}

func (s *riskService) GetRiskWhy(ctx context.Context, orgID uuid.UUID) (*models.RiskWhy, error) {
	tctx, cleanup, err := s.tenantCtx(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	latest, err := s.snapshotRepo.GetLatest(tctx, orgID)
	cleanup()

	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Info("No risk snapshot yet, computing one",
			zap.String("org_id", orgID.String()))
		latest, err = s.Compute(ctx, orgID, models.RiskComputeOptions{})
	}
	if err != nil {
		return nil, err
	}

	delta, err := s.delta(ctx, latest)
	if err != nil {
		return nil, err
	}

	return &models.RiskWhy{
		RiskOverview: models.RiskOverview{
			OrgID:     latest.OrgID,
			AsOfDate:  latest.AsOfDate,
			RiskScore: latest.RiskScore,
			Delta:     delta,
			Meta:      latest.Meta,
		},
		Drivers: latest.Drivers,
	}, nil
}

// delta is today minus the previous day's score, or nil without a previous-day snapshot.
func (s *riskService) delta(ctx context.Context, latest *models.RiskSnapshot) (*int, error) {
	tctx, cleanup, err := s.tenantCtx(ctx, latest.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	defer cleanup()

	previous, err := s.snapshotRepo.GetByDate(tctx, latest.OrgID, latest.AsOfDate.AddDate(0, 0, -1))
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d := latest.RiskScore - previous.RiskScore
	return &d, nil
}
