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
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

func adminPassthrough(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func TestRiskScheduler_RunAllSkipsBusyAndFailingOrgs(t *testing.T) {
	g := newMemGraph()
	nodes := &memNodeRepo{g: g}
	orgs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, org := range orgs {
		require.NoError(t, nodes.Upsert(context.Background(), &models.GraphNode{
			OrgID: org, Type: models.NodeTypeCompany, EntityID: "c", Title: "c",
		}))
	}

	svc := &stubRiskService{
		snapshot: testSnapshot(),
		errFor: map[uuid.UUID]error{
			orgs[0]: apperrors.ErrRiskRunInProgress,
			orgs[1]: errors.New("boom"),
		},
	}
	runner := NewRiskRunner(svc, nil, zap.NewNop())
	scheduler := NewRiskScheduler(runner, nodes, adminPassthrough, zap.NewNop())

	computed := scheduler.RunAll(context.Background())

	assert.Equal(t, 1, computed)
	assert.ElementsMatch(t, orgs, svc.computed)
}

func TestRiskScheduler_AdminContextFailure(t *testing.T) {
	svc := &stubRiskService{snapshot: testSnapshot()}
	runner := NewRiskRunner(svc, nil, zap.NewNop())
	failing := func(ctx context.Context) (context.Context, func(), error) {
		return nil, nil, errStoreDown
	}
	scheduler := NewRiskScheduler(runner, &memNodeRepo{g: newMemGraph()}, failing, zap.NewNop())

	assert.Equal(t, 0, scheduler.RunAll(context.Background()))
	assert.Empty(t, svc.computed)
}

func TestRiskScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	g := newMemGraph()
	nodes := &memNodeRepo{g: g}
	require.NoError(t, nodes.Upsert(context.Background(), &models.GraphNode{
		OrgID: uuid.New(), Type: models.NodeTypeCompany, EntityID: "c", Title: "c",
	}))

	done := make(chan struct{}, 1)
	consumer := &signalConsumer{done: done}
	svc := &stubRiskService{snapshot: testSnapshot()}
	runner := NewRiskRunner(svc, []DriverConsumer{consumer}, zap.NewNop())
	scheduler := NewRiskScheduler(runner, nodes, adminPassthrough, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx, time.Hour)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not run on start")
	}
}

type signalConsumer struct{ done chan struct{} }

func (c *signalConsumer) Name() string { return "signal" }

func (c *signalConsumer) ConsumeDrivers(ctx context.Context, orgID uuid.UUID, asOfDate time.Time, drivers models.Drivers) error {
	select {
	case c.done <- struct{}{}:
	default:
	}
	return nil
}
