package risk

import (
	"fmt"
	"math"
	"strings"
)

// GateConfig contains the thresholds of the pre-trade gate that do not come
// from stored limits
type GateConfig struct {
	HighLeverageWarning float64 `json:"high_leverage_warning"`
}

// DefaultGateConfig returns the production gate settings
func DefaultGateConfig() GateConfig {
	return GateConfig{HighLeverageWarning: 5}
}

// LimitViolation records a breached limit. Current and Projected use the
// unit of the limit: a ratio for MAX_LEVERAGE, percent of balance otherwise.
// For MIN_MARGIN, Current is the free margin before the order,
// (balance - exposure) / balance * 100 floored at 0, and Projected is the
// balance left after paying for the order.
type LimitViolation struct {
	Type      LimitType `json:"type"`
	Limit     float64   `json:"limit"`
	Current   float64   `json:"current"`
	Projected float64   `json:"projected"`
	Message   string    `json:"message"`
}

// OrderRiskCheckResult is the decision of the pre-trade gate
type OrderRiskCheckResult struct {
	Allowed           bool             `json:"allowed"`
	Violations        []LimitViolation `json:"violations"`
	Warnings          []string         `json:"warnings"`
	OrderValue        float64          `json:"order_value"`
	ProjectedExposure float64          `json:"projected_exposure"`
	ProjectedLeverage float64          `json:"projected_leverage"`
}

// OrderGate decides whether a proposed order fits within the owner's limits.
// Limit breaches are reported as violations, never as errors.
type OrderGate struct {
	config GateConfig
}

// NewOrderGate creates a gate
func NewOrderGate(config GateConfig) *OrderGate {
	return &OrderGate{config: config}
}

// CheckOrder evaluates every enabled limit independently so that one call
// reports every violation. dailyPnL is the realised and unrealised P&L of the
// current day and may be nil when unknown.
func (g *OrderGate) CheckOrder(order Order, exposure *Exposure, limits []RiskLimit, dailyPnL *float64) (OrderRiskCheckResult, error) {
	const op = "CheckOrder"

	if err := validateOrder(op, order); err != nil {
		return OrderRiskCheckResult{}, err
	}
	if exposure == nil {
		return OrderRiskCheckResult{}, NewDependencyUnavailableError(op, "exposure", nil)
	}
	balance := exposure.Balance
	if !isFinite(balance) || balance <= 0 {
		return OrderRiskCheckResult{}, NewRiskError(ErrCodeInvalidPortfolio, "account balance must be positive", op).
			WithDetails("balance", balance)
	}

	orderValue := order.Value()
	projectedExposure := exposure.Total + orderValue
	if order.Side == SideSell {
		projectedExposure = exposure.Total - orderValue
	}

	result := OrderRiskCheckResult{
		Violations:        []LimitViolation{},
		Warnings:          []string{},
		OrderValue:        orderValue,
		ProjectedExposure: projectedExposure,
		ProjectedLeverage: projectedExposure / balance,
	}

	for _, limit := range limits {
		if !limit.Enabled {
			continue
		}

		switch limit.Type {
		case LimitMaxLeverage:
			if result.ProjectedLeverage > limit.Value {
				result.Violations = append(result.Violations, LimitViolation{
					Type:      limit.Type,
					Limit:     limit.Value,
					Current:   exposure.Leverage,
					Projected: result.ProjectedLeverage,
					Message: fmt.Sprintf("projected leverage %.2fx exceeds limit %.2fx",
						result.ProjectedLeverage, limit.Value),
				})
			}

		case LimitMaxPositionSize:
			orderPct := orderValue / balance * 100
			if orderPct > limit.Value {
				result.Violations = append(result.Violations, LimitViolation{
					Type:      limit.Type,
					Limit:     limit.Value,
					Current:   exposure.BySymbol[order.Symbol] / balance * 100,
					Projected: orderPct,
					Message: fmt.Sprintf("order size %.2f%% of balance exceeds limit %.2f%%",
						orderPct, limit.Value),
				})
			}

		case LimitMinMargin:
			if order.Side != SideBuy {
				continue
			}
			remainingPct := (balance - orderValue) / balance * 100
			if remainingPct < limit.Value {
				result.Violations = append(result.Violations, LimitViolation{
					Type:      limit.Type,
					Limit:     limit.Value,
					Current:   math.Max(0, (balance-exposure.Total)/balance*100),
					Projected: remainingPct,
					Message: fmt.Sprintf("remaining margin %.2f%% below minimum %.2f%%",
						remainingPct, limit.Value),
				})
			}

		case LimitMaxDailyLoss:
			if dailyPnL == nil {
				result.Warnings = append(result.Warnings,
					"daily loss limit not evaluated: daily P&L unavailable")
				continue
			}
			if *dailyPnL >= 0 {
				continue
			}
			lossPct := math.Abs(*dailyPnL) / balance * 100
			if lossPct > limit.Value {
				result.Violations = append(result.Violations, LimitViolation{
					Type:      limit.Type,
					Limit:     limit.Value,
					Current:   lossPct,
					Projected: lossPct,
					Message: fmt.Sprintf("daily loss %.2f%% of balance exceeds limit %.2f%%",
						lossPct, limit.Value),
				})
			}

		default:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("unknown limit type %q ignored", limit.Type))
		}
	}

	if result.ProjectedLeverage > g.config.HighLeverageWarning {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"high leverage: projected %.2fx exceeds %.0fx", result.ProjectedLeverage, g.config.HighLeverageWarning))
	}

	result.Allowed = len(result.Violations) == 0
	return result, nil
}

func validateOrder(op string, order Order) error {
	invalid := func(msg string) *RiskError {
		return NewRiskError(ErrCodeInvalidOrder, msg, op).WithDetails("symbol", order.Symbol)
	}

	if strings.TrimSpace(order.Symbol) == "" {
		return invalid("order symbol is required")
	}
	if order.Side != SideBuy && order.Side != SideSell {
		return invalid("order side must be BUY or SELL").WithDetails("side", order.Side)
	}
	if !isFinite(order.Quantity) || order.Quantity <= 0 {
		return invalid("order quantity must be positive").WithDetails("quantity", order.Quantity)
	}
	if !isFinite(order.Price) || order.Price <= 0 {
		return invalid("order price must be positive").WithDetails("price", order.Price)
	}
	return nil
}
