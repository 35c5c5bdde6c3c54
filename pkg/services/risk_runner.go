package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/events"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/metrics"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/retry"
)

// DriverConsumer receives the drivers of a finished risk run.
// Implementations must tolerate repeated delivery for the same (org, day).
type DriverConsumer interface {
	Name() string
	ConsumeDrivers(ctx context.Context, orgID uuid.UUID, asOfDate time.Time, drivers models.Drivers) error
}

type busConsumer struct {
	topic     string
	publisher events.Publisher
	now       func() time.Time
}

// NewBusConsumer creates a DriverConsumer that publishes drivers on a bus topic.
func NewBusConsumer(topic string, publisher events.Publisher) DriverConsumer {
	return &busConsumer{topic: topic, publisher: publisher, now: time.Now}
}

func (c *busConsumer) Name() string { return c.topic }

func (c *busConsumer) ConsumeDrivers(ctx context.Context, orgID uuid.UUID, asOfDate time.Time, drivers models.Drivers) error {
	return c.publisher.Publish(ctx, c.topic, events.NewDriverBatch(orgID, asOfDate, drivers, c.now()))
}

// RiskRunner computes an org's risk and hands the drivers to downstream consumers.
type RiskRunner interface {
	// Run computes and persists the snapshot, then dispatches its drivers.
	// Consumer failures are logged and never fail the run.
	Run(ctx context.Context, orgID uuid.UUID, opts models.RiskComputeOptions) (*models.RiskSnapshot, error)
}

type riskRunner struct {
	riskService RiskService
	consumers   []DriverConsumer
	retryConfig *retry.Config
	logger      *zap.Logger
}

// NewRiskRunner creates a RiskRunner. consumers may be empty.
func NewRiskRunner(riskService RiskService, consumers []DriverConsumer, logger *zap.Logger) RiskRunner {
	return &riskRunner{
		riskService: riskService,
		consumers:   consumers,
		retryConfig: retry.DefaultConfig(),
		logger:      logger.Named("risk-runner"),
	}
}

var _ RiskRunner = (*riskRunner)(nil)

func (r *riskRunner) Run(ctx context.Context, orgID uuid.UUID, opts models.RiskComputeOptions) (*models.RiskSnapshot, error) {
	snapshot, err := r.riskService.Compute(ctx, orgID, opts)
	if err != nil {
		return nil, err
	}

	for _, c := range r.consumers {
		r.dispatch(ctx, c, snapshot)
	}

	return snapshot, nil
}

func (r *riskRunner) dispatch(ctx context.Context, c DriverConsumer, snapshot *models.RiskSnapshot) {
	defer func() {
		if p := recover(); p != nil {
			metrics.DriverDispatchTotal.WithLabelValues(c.Name(), metrics.ResultError).Inc()
			r.logger.Error("Driver consumer panicked",
				zap.String("consumer", c.Name()),
				zap.String("org_id", snapshot.OrgID.String()),
				zap.Any("panic", p))
		}
	}()

	err := retry.DoIfRetryable(ctx, r.retryConfig, func() error {
		return c.ConsumeDrivers(ctx, snapshot.OrgID, snapshot.AsOfDate, snapshot.Drivers)
	})
	if err != nil {
		metrics.DriverDispatchTotal.WithLabelValues(c.Name(), metrics.ResultError).Inc()
		r.logger.Error("Driver hand-off failed",
			zap.String("consumer", c.Name()),
			zap.String("org_id", snapshot.OrgID.String()),
			zap.Int("drivers", len(snapshot.Drivers)),
			zap.Error(err))
		return
	}

	metrics.DriverDispatchTotal.WithLabelValues(c.Name(), metrics.ResultSuccess).Inc()
	r.logger.Debug("Drivers handed off",
		zap.String("consumer", c.Name()),
		zap.String("org_id", snapshot.OrgID.String()),
		zap.Int("drivers", len(snapshot.Drivers)))
}
