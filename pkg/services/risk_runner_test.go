package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/events"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/retry"
)

type stubRiskService struct {
	snapshot *models.RiskSnapshot
	err      error
	computed []uuid.UUID
	errFor   map[uuid.UUID]error
}

func (s *stubRiskService) Compute(ctx context.Context, orgID uuid.UUID, opts models.RiskComputeOptions) (*models.RiskSnapshot, error) {
	s.computed = append(s.computed, orgID)
	if err, ok := s.errFor[orgID]; ok {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	snap := *s.snapshot
	snap.OrgID = orgID
	return &snap, nil
}

func (s *stubRiskService) GetLatestRisk(ctx context.Context, orgID uuid.UUID) (*models.RiskOverview, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRiskService) GetRiskWhy(ctx context.Context, orgID uuid.UUID) (*models.RiskWhy, error) {
	return nil, errors.New("not implemented")
}

func testSnapshot() *models.RiskSnapshot {
	return &models.RiskSnapshot{
		AsOfDate:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		RiskScore: 33,
		Drivers: models.Drivers{
			{NodeID: uuid.New(), EntityID: "INC-1", Type: models.NodeTypeIncident, RiskScore: 70},
		},
	}
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestRiskRunner_DispatchesDriversToEveryConsumer(t *testing.T) {
	svc := &stubRiskService{snapshot: testSnapshot()}
	nudge := &fakeConsumer{name: events.TopicNudge}
	autopilot := &fakeConsumer{name: events.TopicAutopilot}
	runner := NewRiskRunner(svc, []DriverConsumer{nudge, autopilot}, zap.NewNop())

	orgID := uuid.New()
	snapshot, err := runner.Run(context.Background(), orgID, models.RiskComputeOptions{})
	require.NoError(t, err)

	for _, c := range []*fakeConsumer{nudge, autopilot} {
		assert.Equal(t, 1, c.calls, c.name)
		assert.Equal(t, snapshot.Drivers, c.got, c.name)
		assert.Equal(t, snapshot.AsOfDate, c.date, c.name)
	}
}

func TestRiskRunner_ConsumerFailureDoesNotFailRun(t *testing.T) {
	svc := &stubRiskService{snapshot: testSnapshot()}
	failing := &fakeConsumer{name: "nudge", err: errors.New("validation rejected")}
	healthy := &fakeConsumer{name: "autopilot"}
	runner := NewRiskRunner(svc, []DriverConsumer{failing, healthy}, zap.NewNop()).(*riskRunner)
	runner.retryConfig = fastRetry()

	snapshot, err := runner.Run(context.Background(), uuid.New(), models.RiskComputeOptions{})

	require.NoError(t, err)
	assert.Equal(t, 33, snapshot.RiskScore)
	assert.Equal(t, 1, failing.calls, "permanent errors are not retried")
	assert.Equal(t, 1, healthy.calls)
}

func TestRiskRunner_TransientConsumerFailureRetried(t *testing.T) {
	svc := &stubRiskService{snapshot: testSnapshot()}
	flaky := &fakeConsumer{name: "nudge", err: errors.New("connection refused")}
	runner := NewRiskRunner(svc, []DriverConsumer{flaky}, zap.NewNop()).(*riskRunner)
	runner.retryConfig = fastRetry()

	_, err := runner.Run(context.Background(), uuid.New(), models.RiskComputeOptions{})

	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
}

type panickingConsumer struct{}

func (panickingConsumer) Name() string { return "broken" }

func (panickingConsumer) ConsumeDrivers(ctx context.Context, orgID uuid.UUID, asOfDate time.Time, drivers models.Drivers) error {
	panic("boom")
}

func TestRiskRunner_ConsumerPanicIsContained(t *testing.T) {
	svc := &stubRiskService{snapshot: testSnapshot()}
	after := &fakeConsumer{name: "autopilot"}
	runner := NewRiskRunner(svc, []DriverConsumer{panickingConsumer{}, after}, zap.NewNop())

	_, err := runner.Run(context.Background(), uuid.New(), models.RiskComputeOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, after.calls)
}

func TestRiskRunner_ComputeErrorSkipsDispatch(t *testing.T) {
	svc := &stubRiskService{err: apperrors.ErrRiskRunInProgress}
	consumer := &fakeConsumer{name: "nudge"}
	runner := NewRiskRunner(svc, []DriverConsumer{consumer}, zap.NewNop())

	_, err := runner.Run(context.Background(), uuid.New(), models.RiskComputeOptions{})

	assert.ErrorIs(t, err, apperrors.ErrRiskRunInProgress)
	assert.Equal(t, 0, consumer.calls)
}

type recordingPublisher struct {
	topic string
	batch events.DriverBatch
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, batch events.DriverBatch) error {
	p.topic = topic
	p.batch = batch
	return nil
}

func TestBusConsumer_PublishesBatch(t *testing.T) {
	pub := &recordingPublisher{}
	consumer := NewBusConsumer(events.TopicAutopilot, pub)
	orgID := uuid.New()
	snap := testSnapshot()

	require.NoError(t, consumer.ConsumeDrivers(context.Background(), orgID, snap.AsOfDate, snap.Drivers))

	assert.Equal(t, events.TopicAutopilot, consumer.Name())
	assert.Equal(t, events.TopicAutopilot, pub.topic)
	assert.Equal(t, orgID, pub.batch.OrgID)
	assert.Equal(t, "2026-03-10", pub.batch.AsOfDate)
	assert.Equal(t, orgID.String()+":2026-03-10", pub.batch.IdempotencyKey)
	assert.Equal(t, snap.Drivers, pub.batch.Drivers)
}
