package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database configuration
type Config struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	ConnectionString string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	MinConns         int           `mapstructure:"min_conns"`
	MaxLifetime      time.Duration `mapstructure:"max_lifetime"`
}

// DSN returns the connection string, building one from the discrete fields
// when no URL is configured
func (c Config) DSN() (string, error) {
	if c.ConnectionString != "" {
		return c.ConnectionString, nil
	}
	if c.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return "", fmt.Errorf("invalid port")
	}
	if c.User == "" {
		return "", fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return "", fmt.Errorf("database is required")
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode,
	), nil
}

// NewPool creates a PostgreSQL connection pool and verifies connectivity
func NewPool(ctx context.Context, config Config) (*pgxpool.Pool, error) {
	dsn, err := config.DSN()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = int32(config.MinConns)
	}
	if config.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Migration is one versioned schema change
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// Migrations is the ordered schema of the risk service
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "portfolio_values",
		Up: `
			CREATE TABLE IF NOT EXISTS portfolio_values (
				portfolio_id TEXT NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL,
				total_value NUMERIC(28, 8) NOT NULL,
				PRIMARY KEY (portfolio_id, recorded_at)
			)`,
		Down: `DROP TABLE IF EXISTS portfolio_values`,
	},
	{
		Version: 2,
		Name:    "portfolio_positions",
		Up: `
			CREATE TABLE IF NOT EXISTS portfolio_accounts (
				portfolio_id TEXT PRIMARY KEY,
				balance NUMERIC(28, 8) NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS portfolio_positions (
				portfolio_id TEXT NOT NULL REFERENCES portfolio_accounts(portfolio_id) ON DELETE CASCADE,
				symbol TEXT NOT NULL,
				quantity NUMERIC(28, 8) NOT NULL,
				current_price NUMERIC(28, 8) NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (portfolio_id, symbol)
			)`,
		Down: `
			DROP TABLE IF EXISTS portfolio_positions;
			DROP TABLE IF EXISTS portfolio_accounts`,
	},
	{
		Version: 3,
		Name:    "market_index_values",
		Up: `
			CREATE TABLE IF NOT EXISTS market_index_values (
				index_id TEXT NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL,
				level NUMERIC(28, 8) NOT NULL,
				PRIMARY KEY (index_id, recorded_at)
			)`,
		Down: `DROP TABLE IF EXISTS market_index_values`,
	},
	{
		Version: 4,
		Name:    "risk_limits",
		Up: `
			CREATE TABLE IF NOT EXISTS risk_limits (
				id UUID PRIMARY KEY,
				owner_id TEXT NOT NULL,
				limit_type VARCHAR(32) NOT NULL,
				value NUMERIC(20, 8) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (owner_id, limit_type)
			);
			CREATE INDEX IF NOT EXISTS idx_risk_limits_owner ON risk_limits(owner_id)`,
		Down: `DROP TABLE IF EXISTS risk_limits`,
	},
}

// MigrationRunner applies Migrations and records them in schema_migrations
type MigrationRunner struct {
	pool       *pgxpool.Pool
	migrations []Migration
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(pool *pgxpool.Pool, migrations []Migration) *MigrationRunner {
	return &MigrationRunner{pool: pool, migrations: migrations}
}

// Validate checks that versions are unique and ascending
func (m *MigrationRunner) Validate() error {
	var last int64
	for _, mig := range m.migrations {
		if mig.Version <= last {
			return fmt.Errorf("migration %d (%s) is out of order", mig.Version, mig.Name)
		}
		if mig.Up == "" {
			return fmt.Errorf("migration %d (%s) has no up script", mig.Version, mig.Name)
		}
		last = mig.Version
	}
	return nil
}

// Up runs all pending migrations, each in its own transaction
func (m *MigrationRunner) Up(ctx context.Context) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	current, err := m.Version(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Down rolls back the most recent steps migrations
func (m *MigrationRunner) Down(ctx context.Context, steps int) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0 && steps > 0; i-- {
		mig := m.migrations[i]

		var applied bool
		err := m.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", mig.Version, err)
		}
		if !applied {
			continue
		}

		err = pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
			if mig.Down != "" {
				if _, err := tx.Exec(ctx, mig.Down); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to roll back migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		steps--
	}
	return nil
}

// Version returns the highest applied migration, or 0
func (m *MigrationRunner) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (m *MigrationRunner) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}
