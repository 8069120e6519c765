package risk

import (
	"math"
	"sort"
	"time"
)

const tradingDaysPerYear = 365

// DefaultRiskFreeRate is the annual risk-free rate used when callers have none
const DefaultRiskFreeRate = 0.02

// SharpeRatio annualises the excess daily return over its volatility.
// Crypto markets trade every day, so the annualisation factor is √365.
// Degenerate inputs yield 0 rather than an error.
func SharpeRatio(returns []float64, riskFreeAnnual float64) float64 {
	if len(returns) < 2 || !isFinite(riskFreeAnnual) {
		return 0
	}
	for _, r := range returns {
		if !isFinite(r) {
			return 0
		}
	}

	series := ReturnSeries(returns)
	std := series.StdDev()
	if std == 0 || !isFinite(std) {
		return 0
	}

	excess := series.Mean() - riskFreeAnnual/tradingDaysPerYear
	sharpe := excess / std * math.Sqrt(tradingDaysPerYear)
	if !isFinite(sharpe) {
		return 0
	}
	return sharpe
}

// MaxDrawdown returns the largest peak-to-trough decline in percent
func MaxDrawdown(values []float64) float64 {
	var peak, maxDD float64
	havePeak := false

	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		if !havePeak || v > peak {
			peak = v
			havePeak = true
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

// DrawdownPoint is one step of a drawdown path
type DrawdownPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	Value           float64   `json:"value"`
	Peak            float64   `json:"peak"`
	Drawdown        float64   `json:"drawdown"`
	DrawdownPercent float64   `json:"drawdown_percent"`
}

// DrawdownReport summarises the drawdown history of a value series
type DrawdownReport struct {
	MaxDrawdownPercent     float64         `json:"max_drawdown_percent"`
	CurrentDrawdownPercent float64         `json:"current_drawdown_percent"`
	MaxDrawdownDuration    time.Duration   `json:"max_drawdown_duration"`
	DrawdownPeriods        int             `json:"drawdown_periods"`
	Path                   []DrawdownPoint `json:"path"`
}

// DrawdownProfile walks a value history and records the running peak and
// drawdown at every point. Points are ordered by timestamp first.
func DrawdownProfile(points []ValuePoint) DrawdownReport {
	report := DrawdownReport{Path: make([]DrawdownPoint, 0, len(points))}
	if len(points) == 0 {
		return report
	}

	sorted := make([]ValuePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var (
		peak       float64
		peakAt     time.Time
		havePeak   bool
		inDrawdown bool
	)

	for _, p := range sorted {
		if !isFinite(p.TotalValue) {
			continue
		}
		if !havePeak || p.TotalValue >= peak {
			peak = p.TotalValue
			peakAt = p.Timestamp
			havePeak = true
		}

		point := DrawdownPoint{Timestamp: p.Timestamp, Value: p.TotalValue, Peak: peak}
		if peak > 0 {
			point.Drawdown = peak - p.TotalValue
			point.DrawdownPercent = point.Drawdown / peak * 100
		}

		if point.DrawdownPercent > 0 {
			if !inDrawdown {
				report.DrawdownPeriods++
				inDrawdown = true
			}
			if d := p.Timestamp.Sub(peakAt); d > report.MaxDrawdownDuration {
				report.MaxDrawdownDuration = d
			}
		} else {
			inDrawdown = false
		}

		if point.DrawdownPercent > report.MaxDrawdownPercent {
			report.MaxDrawdownPercent = point.DrawdownPercent
		}
		report.Path = append(report.Path, point)
	}

	if n := len(report.Path); n > 0 {
		report.CurrentDrawdownPercent = report.Path[n-1].DrawdownPercent
	}
	return report
}

// Exposure is the gross and net notional of a portfolio relative to its balance
type Exposure struct {
	Long     float64            `json:"long"`
	Short    float64            `json:"short"`
	Total    float64            `json:"total"`
	Net      float64            `json:"net"`
	Leverage float64            `json:"leverage"`
	Balance  float64            `json:"balance"`
	BySymbol map[string]float64 `json:"by_symbol"`
}

// CalculateExposure aggregates position notionals. Short is reported as a
// positive amount; BySymbol holds the absolute notional per symbol.
func CalculateExposure(positions []Position, balance float64) (Exposure, error) {
	const op = "CalculateExposure"

	if !isFinite(balance) {
		return Exposure{}, NewRiskError(ErrCodeInvalidPortfolio, "balance must be finite", op)
	}

	exp := Exposure{Balance: balance, BySymbol: make(map[string]float64, len(positions))}
	for _, p := range positions {
		if err := p.validate(op); err != nil {
			return Exposure{}, err
		}
		mv := p.MarketValue()
		switch {
		case p.IsLong():
			exp.Long += mv
		case p.IsShort():
			exp.Short += -mv
		}
		exp.BySymbol[p.Symbol] += math.Abs(mv)
	}

	exp.Total = exp.Long + exp.Short
	exp.Net = exp.Long - exp.Short
	if balance > 0 {
		exp.Leverage = exp.Total / balance
	}
	return exp, nil
}
