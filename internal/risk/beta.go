package risk

import (
	"errors"
	"math"
	"time"
)

// BetaResult is a single-index CAPM regression of portfolio on market returns
type BetaResult struct {
	Beta         float64 `json:"beta"`
	Alpha        float64 `json:"alpha"`
	Correlation  float64 `json:"correlation"`
	RSquared     float64 `json:"r_squared"`
	Observations int     `json:"observations"`
}

// MarketSeries is one market index used in a multi-market regression
type MarketSeries struct {
	Name    string        `json:"name"`
	Weight  float64       `json:"weight"`
	Returns []TimedReturn `json:"returns"`
}

// IndexBeta is the regression against one index of a multi-market request
type IndexBeta struct {
	Name   string     `json:"name"`
	Weight float64    `json:"weight"`
	Result BetaResult `json:"result"`
}

// MultiMarketBetaResult combines per-index betas by normalised weight
type MultiMarketBetaResult struct {
	Beta     float64     `json:"beta"`
	RSquared float64     `json:"r_squared"`
	Indices  []IndexBeta `json:"indices"`
}

// RollingBetaPoint is the regression over one window of a rolling beta
type RollingBetaPoint struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Beta     float64   `json:"beta"`
	RSquared float64   `json:"r_squared"`
}

// BetaConfig contains defaults for the rolling regression
type BetaConfig struct {
	RollingWindow int `json:"rolling_window"`
	RollingStep   int `json:"rolling_step"`
}

// DefaultBetaConfig returns a 30-observation window stepped daily
func DefaultBetaConfig() BetaConfig {
	return BetaConfig{RollingWindow: 30, RollingStep: 1}
}

// BetaEngine regresses portfolio returns on market index returns
type BetaEngine struct {
	config BetaConfig
}

// NewBetaEngine creates a beta engine
func NewBetaEngine(config BetaConfig) *BetaEngine {
	if config.RollingWindow == 0 {
		config.RollingWindow = DefaultBetaConfig().RollingWindow
	}
	if config.RollingStep == 0 {
		config.RollingStep = DefaultBetaConfig().RollingStep
	}
	return &BetaEngine{config: config}
}

// Config returns the engine configuration
func (be *BetaEngine) Config() BetaConfig {
	return be.config
}

// CalculateBeta computes beta = Cov(p, m)/Var(m) over two aligned series.
// Series that differ in length or timestamps are rejected, never truncated.
func (be *BetaEngine) CalculateBeta(portfolio, market []TimedReturn) (BetaResult, error) {
	const op = "CalculateBeta"

	if err := checkAlignment(op, portfolio, market); err != nil {
		return BetaResult{}, err
	}
	if len(portfolio) < 2 {
		return BetaResult{}, NewInsufficientDataError(op, 2, len(portfolio))
	}
	return regress(op, Values(portfolio), Values(market))
}

// CalculateMultiMarketBeta regresses the portfolio against each index and
// combines the betas and R² by normalised weight
func (be *BetaEngine) CalculateMultiMarketBeta(portfolio []TimedReturn, markets []MarketSeries) (MultiMarketBetaResult, error) {
	const op = "CalculateMultiMarketBeta"

	if len(markets) == 0 {
		return MultiMarketBetaResult{}, NewRiskError(ErrCodeMissingMarketSeries,
			"at least one market series is required", op)
	}

	var totalWeight float64
	for _, m := range markets {
		if !isFinite(m.Weight) || m.Weight <= 0 {
			return MultiMarketBetaResult{}, NewConfigurationError(op, "market weight must be positive").
				WithDetails("market", m.Name).
				WithDetails("weight", m.Weight)
		}
		totalWeight += m.Weight
	}

	result := MultiMarketBetaResult{Indices: make([]IndexBeta, 0, len(markets))}
	for _, m := range markets {
		single, err := be.CalculateBeta(portfolio, m.Returns)
		if err != nil {
			if re, ok := AsRiskError(err); ok {
				re.WithDetails("market", m.Name)
			}
			return MultiMarketBetaResult{}, err
		}

		w := m.Weight / totalWeight
		result.Beta += w * single.Beta
		result.RSquared += w * single.RSquared
		result.Indices = append(result.Indices, IndexBeta{Name: m.Name, Weight: w, Result: single})
	}
	return result, nil
}

// CalculateRollingBeta recomputes beta and R² over a sliding window. A zero
// window or step falls back to the engine defaults. Windows where the market
// does not move are skipped.
func (be *BetaEngine) CalculateRollingBeta(portfolio, market []TimedReturn, window, step int) ([]RollingBetaPoint, error) {
	const op = "CalculateRollingBeta"

	if window == 0 {
		window = be.config.RollingWindow
	}
	if step == 0 {
		step = be.config.RollingStep
	}
	if window < 2 {
		return nil, NewConfigurationError(op, "rolling window must be at least 2").WithDetails("window", window)
	}
	if step < 1 {
		return nil, NewConfigurationError(op, "rolling step must be at least 1").WithDetails("step", step)
	}
	if err := checkAlignment(op, portfolio, market); err != nil {
		return nil, err
	}
	if len(portfolio) < window {
		return nil, NewInsufficientDataError(op, window, len(portfolio))
	}

	p, m := Values(portfolio), Values(market)
	points := make([]RollingBetaPoint, 0, (len(p)-window)/step+1)
	for start := 0; start+window <= len(p); start += step {
		end := start + window
		res, err := regress(op, p[start:end], m[start:end])
		if err != nil {
			if errors.Is(err, ErrNumerical) {
				continue
			}
			return nil, err
		}
		points = append(points, RollingBetaPoint{
			Start:    portfolio[start].Timestamp,
			End:      portfolio[end-1].Timestamp,
			Beta:     res.Beta,
			RSquared: res.RSquared,
		})
	}

	if len(points) == 0 {
		return nil, NewRiskError(ErrCodeNumericalInstability, "market variance is zero in every window", op)
	}
	return points, nil
}

func checkAlignment(op string, portfolio, market []TimedReturn) error {
	if len(portfolio) != len(market) {
		return NewAlignmentError(op, "series lengths differ").
			WithDetails("portfolio_length", len(portfolio)).
			WithDetails("market_length", len(market))
	}
	for i := range portfolio {
		if !portfolio[i].Timestamp.Equal(market[i].Timestamp) {
			return NewAlignmentError(op, "timestamps differ").
				WithDetails("index", i).
				WithDetails("portfolio_timestamp", portfolio[i].Timestamp).
				WithDetails("market_timestamp", market[i].Timestamp)
		}
		if !isFinite(portfolio[i].Return) || !isFinite(market[i].Return) {
			return NewInvalidInputError(op, "returns must be finite").WithDetails("index", i)
		}
	}
	return nil
}

func regress(op string, p, m ReturnSeries) (BetaResult, error) {
	meanP, meanM := p.Mean(), m.Mean()

	var cov, varP, varM float64
	for i := range p {
		dp, dm := p[i]-meanP, m[i]-meanM
		cov += dp * dm
		varP += dp * dp
		varM += dm * dm
	}
	n := float64(len(p))
	cov /= n
	varP /= n
	varM /= n

	if varM == 0 || !isFinite(varM) {
		return BetaResult{}, NewRiskError(ErrCodeNumericalInstability, "market variance is zero", op).
			WithDetails("observations", len(p))
	}

	beta := cov / varM
	var corr float64
	if varP > 0 {
		corr = cov / math.Sqrt(varP*varM)
		// rounding can push a perfect fit just past ±1
		corr = math.Max(-1, math.Min(1, corr))
	}

	return BetaResult{
		Beta:         beta,
		Alpha:        meanP - beta*meanM,
		Correlation:  corr,
		RSquared:     corr * corr,
		Observations: len(p),
	}, nil
}
