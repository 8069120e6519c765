package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/victoralfred/portfolio-risk/internal/adapters/database"
	"github.com/victoralfred/portfolio-risk/internal/config"
	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/repositories"
)

func connect(ctx context.Context, configPath string) (*pgxpool.Pool, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return database.NewPool(ctx, cfg.Database)
}

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file")

	withRunner := func(fn func(ctx context.Context, cmd *cobra.Command, runner *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx, configPath)
			if err != nil {
				return err
			}
			defer pool.Close()
			return fn(ctx, cmd, database.NewMigrationRunner(pool, database.Migrations))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withRunner(func(ctx context.Context, cmd *cobra.Command, runner *database.MigrationRunner) error {
				if err := runner.Up(ctx); err != nil {
					return err
				}
				return printVersion(ctx, cmd, runner)
			}),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the latest migrations, one by default",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("steps must be a positive integer")
					}
					steps = n
				}
				return withRunner(func(ctx context.Context, cmd *cobra.Command, runner *database.MigrationRunner) error {
					if err := runner.Down(ctx, steps); err != nil {
						return err
					}
					return printVersion(ctx, cmd, runner)
				})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: withRunner(func(ctx context.Context, cmd *cobra.Command, runner *database.MigrationRunner) error {
				return printVersion(ctx, cmd, runner)
			}),
		},
	)
	return cmd
}

func printVersion(ctx context.Context, cmd *cobra.Command, runner *database.MigrationRunner) error {
	version, err := runner.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a portfolio file into the database",
		Long: `Stores the balance, positions, value history, index levels and limits of
a portfolio file under its id. Positions are replaced; history points are
upserted; limits that already exist for the owner are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.file == "" {
				return fmt.Errorf("--file is required")
			}
			p, err := loadPortfolioFile(opts.file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := connect(ctx, configPath)
			if err != nil {
				return err
			}
			defer pool.Close()

			return importPortfolio(ctx, cmd, p,
				repositories.NewPortfolioRepository(pool),
				repositories.NewMarketIndexRepository(pool),
				repositories.NewRiskLimitRepository(pool))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration file")
	return cmd
}

func importPortfolio(ctx context.Context, cmd *cobra.Command, p *filePortfolio,
	portfolios *repositories.PortfolioRepository,
	indices *repositories.MarketIndexRepository,
	limits ports.RiskLimitStore,
) error {
	out := cmd.OutOrStdout()

	if err := portfolios.SaveSnapshot(ctx, p.id, &p.snapshot); err != nil {
		return err
	}
	for _, point := range p.history {
		if err := portfolios.RecordValue(ctx, p.id, point); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "portfolio %s: %d positions, %d history points\n", p.id, len(p.snapshot.Positions), len(p.history))

	for id, points := range p.indices {
		for _, point := range points {
			if err := indices.RecordLevel(ctx, id, point); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "index %s: %d levels\n", id, len(points))
	}

	for _, l := range p.limits {
		limit := l
		// the store assigns IDs
		limit.ID = ""
		err := limits.Create(ctx, &limit)
		switch {
		case errors.Is(err, ports.ErrAlreadyExists):
			fmt.Fprintf(out, "limit %s: already exists, skipped\n", limit.Type)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "limit %s: created %s\n", limit.Type, limit.ID)
		}
	}
	return nil
}
