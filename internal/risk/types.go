package risk

import (
	"math"
	"time"
)

// ValuePoint is one observation of total portfolio value
type ValuePoint struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalValue float64   `json:"total_value"`
}

// Position is an open position. The sign of Quantity encodes long/short.
type Position struct {
	Symbol       string  `json:"symbol" yaml:"symbol"`
	Quantity     float64 `json:"quantity" yaml:"quantity"`
	CurrentPrice float64 `json:"current_price" yaml:"current_price"`
}

// MarketValue returns the signed notional of the position
func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// IsLong reports whether the position is long
func (p Position) IsLong() bool {
	return p.Quantity > 0
}

// IsShort reports whether the position is short
func (p Position) IsShort() bool {
	return p.Quantity < 0
}

func (p Position) validate(operation string) error {
	if p.Symbol == "" {
		return NewRiskError(ErrCodeInvalidPortfolio, "position symbol is required", operation)
	}
	if !isFinite(p.Quantity) || !isFinite(p.CurrentPrice) {
		return NewRiskError(ErrCodeInvalidPortfolio, "position values must be finite", operation).
			WithDetails("symbol", p.Symbol)
	}
	if p.CurrentPrice < 0 {
		return NewRiskError(ErrCodeInvalidPortfolio, "position price cannot be negative", operation).
			WithDetails("symbol", p.Symbol).
			WithDetails("current_price", p.CurrentPrice)
	}
	return nil
}

// PortfolioSnapshot is the current state of an account
type PortfolioSnapshot struct {
	Positions []Position `json:"positions" yaml:"positions"`
	Balance   float64    `json:"balance" yaml:"balance"`
}

// OrderSide is the direction of a proposed order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Order is a proposed order submitted to the pre-trade gate
type Order struct {
	Symbol   string    `json:"symbol" yaml:"symbol"`
	Side     OrderSide `json:"side" yaml:"side"`
	Quantity float64   `json:"quantity" yaml:"quantity"`
	Price    float64   `json:"price" yaml:"price"`
}

// Value returns the notional of the order
func (o Order) Value() float64 {
	return o.Quantity * o.Price
}

// LimitType enumerates the configurable risk limits
type LimitType string

const (
	LimitMaxLeverage     LimitType = "MAX_LEVERAGE"
	LimitMaxPositionSize LimitType = "MAX_POSITION_SIZE"
	LimitMaxDailyLoss    LimitType = "MAX_DAILY_LOSS"
	LimitMinMargin       LimitType = "MIN_MARGIN"
)

// Valid reports whether t is a known limit type
func (t LimitType) Valid() bool {
	switch t {
	case LimitMaxLeverage, LimitMaxPositionSize, LimitMaxDailyLoss, LimitMinMargin:
		return true
	}
	return false
}

// RiskLimit is a limit record owned by an external store. Value is a ratio for
// MAX_LEVERAGE and a percentage of balance for the other types.
type RiskLimit struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Type      LimitType `json:"type"`
	Value     float64   `json:"value"`
	Enabled   bool      `json:"enabled"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
