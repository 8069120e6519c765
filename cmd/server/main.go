package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/adapters/database"
	"github.com/victoralfred/portfolio-risk/internal/config"
	"github.com/victoralfred/portfolio-risk/internal/handlers"
	"github.com/victoralfred/portfolio-risk/internal/infrastructure/redis"
	"github.com/victoralfred/portfolio-risk/internal/logging"
	"github.com/victoralfred/portfolio-risk/internal/metrics"
	"github.com/victoralfred/portfolio-risk/internal/repositories"
	"github.com/victoralfred/portfolio-risk/internal/server"
	"github.com/victoralfred/portfolio-risk/internal/service"
)

var (
	configPath    string
	skipMigration bool
)

var rootCmd = &cobra.Command{
	Use:   "risk-server",
	Short: "Portfolio risk API server",
	Long: `Serves VaR/CVaR, stress tests, portfolio metrics, beta and the
pre-trade order gate over HTTP. Configuration comes from an optional YAML
file and RISK_* environment variables.

Examples:
  risk-server
  risk-server --config config/risk.yaml
  RISK_PORT=9090 RISK_REDIS_ENABLED=true risk-server`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	rootCmd.Flags().BoolVar(&skipMigration, "skip-migrations", false, "Do not apply schema migrations on startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logger = logger.With(zap.String("service", "portfolio-risk"), zap.String("version", cfg.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("Connected to database")

	if !skipMigration {
		runner := database.NewMigrationRunner(pool, database.Migrations)
		if err := runner.Up(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		version, _ := runner.Version(ctx)
		logger.Info("Database schema ready", zap.Int64("version", version))
	}

	registry := metrics.NewRegistry()

	portfolios := repositories.NewPortfolioRepository(pool)
	indices := repositories.NewMarketIndexRepository(pool)
	limits := repositories.NewRiskLimitRepository(pool)

	deps := service.Dependencies{
		History:   portfolios,
		Positions: portfolios,
		Market:    indices,
		Limits:    limits,
	}
	svcs := &server.Services{
		Metrics: registry,
		HealthChecks: map[string]server.HealthCheck{
			"postgres": pgHealthCheck(pool),
		},
	}

	if cfg.Redis.Enabled {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			_ = client.Close()
		}()

		if err := client.Ping(ctx).Err(); err != nil {
			// The API still works without Redis; limits and caching resume
			// once it is reachable.
			logger.Warn("Redis unreachable at startup", zap.String("address", cfg.Redis.Address), zap.Error(err))
		}

		cache := redis.NewHistoryCache(client, portfolios, indices, cfg.Redis.CacheTTL,
			redis.WithCacheObserver(registry),
			redis.WithCacheLogger(logger))
		deps.History = cache
		deps.Market = cache

		svcs.RateLimiter = redis.NewRateLimiter(client)
		svcs.HealthChecks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		logger.Info("Redis enabled", zap.String("address", cfg.Redis.Address), zap.Duration("cache_ttl", cfg.Redis.CacheTTL))
	}

	riskService := service.New(cfg.Risk.Service(), deps,
		service.WithLogger(logger),
		service.WithRecorder(registry))

	svcs.RiskHandler = handlers.NewRiskHandler(riskService, logger)
	svcs.LimitHandler = handlers.NewLimitHandler(riskService, logger)
	svcs.DocsHandler = handlers.NewDocsHandler(cfg.Version)

	httpServer := server.New(cfg, svcs, logger)
	httpServer.Setup()

	return httpServer.Start(ctx)
}

func pgHealthCheck(pool *pgxpool.Pool) server.HealthCheck {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
