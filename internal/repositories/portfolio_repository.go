package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

// PortfolioRepository implements ports.HistoricalPortfolioProvider and
// ports.PositionProvider with PostgreSQL
type PortfolioRepository struct {
	db *pgxpool.Pool
}

// NewPortfolioRepository creates a new PostgreSQL portfolio repository
func NewPortfolioRepository(db *pgxpool.Pool) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// GetHistory returns the value points recorded in the last days, oldest first
func (r *PortfolioRepository) GetHistory(ctx context.Context, portfolioID string, days int) ([]risk.ValuePoint, error) {
	query := `
		SELECT recorded_at, total_value
		FROM portfolio_values
		WHERE portfolio_id = $1 AND recorded_at >= NOW() - make_interval(days => $2)
		ORDER BY recorded_at ASC`

	rows, err := r.db.Query(ctx, query, portfolioID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio history: %w", err)
	}
	defer rows.Close()

	return scanValuePoints(rows)
}

// RecordValue stores one valuation, replacing any value at the same instant
func (r *PortfolioRepository) RecordValue(ctx context.Context, portfolioID string, point risk.ValuePoint) error {
	query := `
		INSERT INTO portfolio_values (portfolio_id, recorded_at, total_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (portfolio_id, recorded_at) DO UPDATE SET total_value = EXCLUDED.total_value`

	_, err := r.db.Exec(ctx, query, portfolioID, point.Timestamp, decimal.NewFromFloat(point.TotalValue))
	if err != nil {
		return fmt.Errorf("failed to record portfolio value: %w", err)
	}
	return nil
}

// GetSnapshot returns the balance and open positions of a portfolio
func (r *PortfolioRepository) GetSnapshot(ctx context.Context, portfolioID string) (*risk.PortfolioSnapshot, error) {
	var balance decimal.Decimal
	err := r.db.QueryRow(ctx,
		`SELECT balance FROM portfolio_accounts WHERE portfolio_id = $1`, portfolioID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get portfolio balance: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT symbol, quantity, current_price
		FROM portfolio_positions
		WHERE portfolio_id = $1 AND quantity <> 0
		ORDER BY symbol`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	snapshot := &risk.PortfolioSnapshot{
		Balance:   balance.InexactFloat64(),
		Positions: []risk.Position{},
	}
	for rows.Next() {
		var symbol string
		var qty, price decimal.Decimal
		if err := rows.Scan(&symbol, &qty, &price); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		snapshot.Positions = append(snapshot.Positions, risk.Position{
			Symbol:       symbol,
			Quantity:     qty.InexactFloat64(),
			CurrentPrice: price.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}

	return snapshot, nil
}

// SaveSnapshot replaces the balance and positions of a portfolio atomically
func (r *PortfolioRepository) SaveSnapshot(ctx context.Context, portfolioID string, snapshot *risk.PortfolioSnapshot) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO portfolio_accounts (portfolio_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (portfolio_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at`,
			portfolioID, decimal.NewFromFloat(snapshot.Balance), time.Now().UTC())
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM portfolio_positions WHERE portfolio_id = $1`, portfolioID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, p := range snapshot.Positions {
			batch.Queue(`
				INSERT INTO portfolio_positions (portfolio_id, symbol, quantity, current_price)
				VALUES ($1, $2, $3, $4)`,
				portfolioID, p.Symbol, decimal.NewFromFloat(p.Quantity), decimal.NewFromFloat(p.CurrentPrice))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save portfolio snapshot: %w", err)
	}
	return nil
}

// MarketIndexRepository implements ports.MarketDataProvider with PostgreSQL
type MarketIndexRepository struct {
	db *pgxpool.Pool
}

// NewMarketIndexRepository creates a new PostgreSQL market index repository
func NewMarketIndexRepository(db *pgxpool.Pool) *MarketIndexRepository {
	return &MarketIndexRepository{db: db}
}

// GetIndexHistory returns index levels recorded in the last days, oldest first.
// An index with no rows at all is reported as ports.ErrNotFound.
func (r *MarketIndexRepository) GetIndexHistory(ctx context.Context, indexID string, days int) ([]risk.ValuePoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT recorded_at, level
		FROM market_index_values
		WHERE index_id = $1 AND recorded_at >= NOW() - make_interval(days => $2)
		ORDER BY recorded_at ASC`, indexID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query index history: %w", err)
	}
	defer rows.Close()

	points, err := scanValuePoints(rows)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM market_index_values WHERE index_id = $1)`, indexID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check index: %w", err)
		}
		if !exists {
			return nil, ports.ErrNotFound
		}
	}
	return points, nil
}

// RecordLevel stores one index level
func (r *MarketIndexRepository) RecordLevel(ctx context.Context, indexID string, point risk.ValuePoint) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO market_index_values (index_id, recorded_at, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (index_id, recorded_at) DO UPDATE SET level = EXCLUDED.level`,
		indexID, point.Timestamp, decimal.NewFromFloat(point.TotalValue))
	if err != nil {
		return fmt.Errorf("failed to record index level: %w", err)
	}
	return nil
}

func scanValuePoints(rows pgx.Rows) ([]risk.ValuePoint, error) {
	points := []risk.ValuePoint{}
	for rows.Next() {
		var ts time.Time
		var value decimal.Decimal
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan value point: %w", err)
		}
		points = append(points, risk.ValuePoint{Timestamp: ts.UTC(), TotalValue: value.InexactFloat64()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate value points: %w", err)
	}
	return points, nil
}
