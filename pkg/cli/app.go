package cli

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/config"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/database"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/events"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/leaselock"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/logging"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/repositories"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/retry"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

// app holds the store connections and the services built on them.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	rdb    *redis.Client

	nodeRepo      repositories.GraphNodeRepository
	graphService  services.GraphService
	impactService services.ImpactRadiusService
	riskService   services.RiskService
	riskRunner    services.RiskRunner
}

// newApp connects to Postgres (and Redis when configured) and wires the services.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rdb, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	var consumers []services.DriverConsumer
	if rdb != nil {
		publisher := events.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix)
		if cfg.Risk.NudgeEnabled {
			consumers = append(consumers, services.NewBusConsumer(events.TopicNudge, publisher))
		}
		if cfg.Risk.AutopilotEnabled {
			consumers = append(consumers, services.NewBusConsumer(events.TopicAutopilot, publisher))
		}
		logger.Info("Driver bus enabled",
			zap.String("addr", cfg.Redis.Addr()),
			zap.Int("consumers", len(consumers)))
	} else {
		logger.Info("Redis not configured, risk drivers will not be published")
	}

	nodeRepo := repositories.NewGraphNodeRepository()
	edgeRepo := repositories.NewGraphEdgeRepository()
	snapshotRepo := repositories.NewRiskSnapshotRepository()

	riskService := services.NewRiskService(
		nodeRepo,
		edgeRepo,
		snapshotRepo,
		services.NewTenantContextFunc(db),
		leaselock.New(db.Pool),
		services.RiskServiceConfig{
			DefaultMaxNodes: cfg.Risk.DefaultMaxNodes,
			HardMaxNodes:    cfg.Risk.HardMaxNodes,
			MaxEdges:        cfg.Risk.MaxEdges,
			LeaseTTL:        cfg.Risk.LeaseTTL,
		},
		logger,
	)

	return &app{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		rdb:           rdb,
		nodeRepo:      nodeRepo,
		graphService:  services.NewGraphService(nodeRepo, edgeRepo, logger),
		impactService: services.NewImpactRadiusService(nodeRepo, edgeRepo, services.NewImpactCache(cfg.Impact.CacheTTL, cfg.Impact.CacheMaxEntries), logger),
		riskService:   riskService,
		riskRunner:    services.NewRiskRunner(riskService, consumers, logger),
	}, nil
}

// Close releases the store connections.
func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	a.db.Close()
}

// connectDatabase opens the pool, retrying transient failures while Postgres starts.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	connStr := cfg.Database.ConnectionString()
	logger.Info("Connecting to database", zap.String("url", logging.SanitizeConnectionString(connStr)))

	var db *database.DB
	err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		var connErr error
		db, connErr = database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: cfg.Database.MaxConnections,
		})
		if connErr != nil {
			logger.Warn("Database connection attempt failed", zap.String("error", logging.SanitizeError(connErr)))
		}
		return connErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}
	return db, nil
}

// migrateDatabase applies pending migrations over a short-lived database/sql handle.
func migrateDatabase(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %s", logging.SanitizeError(err))
	}
	return nil
}
