package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/database"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/handlers"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/mcp"
	mcpauth "github.com/ekaya-inc/ekaya-riskgraph/pkg/mcp/auth"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/metrics"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/middleware"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Configuration loaded",
				zap.String("env", cfg.Env),
				zap.String("version", cfg.Version),
				zap.Bool("auth_verification", cfg.Auth.EnableVerification),
				zap.Bool("metrics_enabled", cfg.MetricsEnabled))

			if !skipMigrations {
				if err := migrateDatabase(cfg, logger); err != nil {
					return err
				}
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on startup")
	return cmd
}

// serve registers every route, starts the scheduler and blocks until ctx is done.
func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWKS client: %w", err)
	}
	defer jwksClient.Close()

	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	tenantMiddleware := database.WithTenantContext(a.db, logger)

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, a.db, logger).RegisterRoutes(mux)
	handlers.NewGraphHandler(a.graphService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewImpactHandler(a.impactService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewRiskHandler(a.riskService, a.riskRunner, logger).RegisterRoutes(mux, authMiddleware)

	mcpServer := mcp.NewServer("ekaya-riskgraph", cfg.Version, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version)
	tools.RegisterGraphTools(mcpServer.MCP(), &tools.GraphToolDeps{
		GraphService:  a.graphService,
		ImpactService: a.impactService,
		Logger:        logger,
	})
	tools.RegisterRiskTools(mcpServer.MCP(), &tools.RiskToolDeps{
		RiskService: a.riskService,
		RiskRunner:  a.riskRunner,
		Logger:      logger,
	})
	mcpAuthMiddleware := mcpauth.NewMiddleware(authService, database.NewTenantScopeProvider(a.db).WithTenantScope, logger)
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, mcpAuthMiddleware)

	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	if cfg.Risk.SchedulerInterval > 0 {
		scheduler := services.NewRiskScheduler(a.riskRunner, a.nodeRepo, services.NewAdminContextFunc(a.db), logger)
		scheduler.Start(ctx, cfg.Risk.SchedulerInterval)
	} else {
		logger.Info("Risk scheduler disabled")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-riskgraph",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
