// Package ports declares the collaborators the risk service depends on.
// Implementations live in internal/repositories and internal/infrastructure.
package ports

import (
	"context"
	"errors"

	"github.com/victoralfred/portfolio-risk/internal/risk"
)

var (
	// ErrNotFound is returned when a portfolio, index or limit does not exist
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an update carries a stale version
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyExists is returned when an owner already has a limit of the same type
	ErrAlreadyExists = errors.New("already exists")
)

// HistoricalPortfolioProvider supplies the value history of a portfolio
type HistoricalPortfolioProvider interface {
	// GetHistory returns up to days of value points, oldest first.
	GetHistory(ctx context.Context, portfolioID string, days int) ([]risk.ValuePoint, error)
}

// PositionProvider supplies the open positions and balance of a portfolio
type PositionProvider interface {
	GetSnapshot(ctx context.Context, portfolioID string) (*risk.PortfolioSnapshot, error)
}

// MarketDataProvider supplies index levels for beta regressions
type MarketDataProvider interface {
	GetIndexHistory(ctx context.Context, indexID string, days int) ([]risk.ValuePoint, error)
}

// RiskLimitStore manages limit records keyed by owner
type RiskLimitStore interface {
	Create(ctx context.Context, limit *risk.RiskLimit) error
	Get(ctx context.Context, ownerID, limitID string) (*risk.RiskLimit, error)
	ListByOwner(ctx context.Context, ownerID string) ([]risk.RiskLimit, error)
	// Update applies the change only if limit.Version matches the stored
	// version, and increments it.
	Update(ctx context.Context, limit *risk.RiskLimit) error
	Delete(ctx context.Context, ownerID, limitID string) error
}
