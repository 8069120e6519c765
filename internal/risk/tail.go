package risk

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// Estimation methods reported on TailEstimate
const (
	MethodHistorical = "Historical"
	MethodParametric = "Parametric"
	MethodMonteCarlo = "MonteCarlo"
)

// Supported confidence levels, in percent
const (
	Confidence95 = 95.0
	Confidence99 = 99.0
)

// zScores are the one-sided standard normal quantiles for the supported levels
var zScores = map[float64]float64{
	Confidence95: 1.645,
	Confidence99: 2.326,
}

// SupportedConfidenceLevels lists the confidence levels the calculators accept
func SupportedConfidenceLevels() []float64 {
	return []float64{Confidence95, Confidence99}
}

// TailConfig contains configuration for VaR/CVaR estimation
type TailConfig struct {
	// MinSamples is the smallest series accepted for percentile estimates.
	MinSamples int `json:"min_samples"`
	// MarginalSamples is the size below which Estimate escalates to the
	// parametric method. Zero selects the default; smaller values than
	// MinSamples are raised to it.
	MarginalSamples int `json:"marginal_samples"`
	// Simulations and Seed drive CalculateMonteCarlo.
	Simulations int   `json:"simulations"`
	Seed        int64 `json:"seed"`
}

// DefaultTailConfig returns the production defaults
func DefaultTailConfig() TailConfig {
	return TailConfig{
		MinSamples:      10,
		MarginalSamples: 30,
		Simulations:     10000,
		Seed:            42,
	}
}

// TailEstimate is the outcome of one VaR/CVaR estimation at one confidence level.
// VaR and CVaR are positive currency amounts.
type TailEstimate struct {
	Method           string  `json:"method"`
	Confidence       float64 `json:"confidence"`
	VaR              float64 `json:"var"`
	CVaR             float64 `json:"cvar"`
	TailRisk         float64 `json:"tail_risk"`
	Observations     int     `json:"observations"`
	TailObservations int     `json:"tail_observations"`
	Escalated        bool    `json:"escalated"`
	ParametricCVaR   float64 `json:"parametric_cvar,omitempty"`
}

// VaRResult reports historical VaR at both supported confidence levels
type VaRResult struct {
	Var95             float64   `json:"var95"`
	Var99             float64   `json:"var99"`
	PortfolioValue    float64   `json:"portfolio_value"`
	HistoricalReturns []float64 `json:"historical_returns"`
	CalculatedAt      time.Time `json:"calculated_at"`
}

// CVaRResult reports historical CVaR at both supported confidence levels
type CVaRResult struct {
	CVaR95            float64   `json:"cvar95"`
	CVaR99            float64   `json:"cvar99"`
	Var95             float64   `json:"var95"`
	Var99             float64   `json:"var99"`
	TailRisk95        float64   `json:"tail_risk95"`
	TailRisk99        float64   `json:"tail_risk99"`
	HistoricalReturns []float64 `json:"historical_returns"`
	CalculatedAt      time.Time `json:"calculated_at"`
}

// AssetContribution attributes part of the portfolio tail loss to one asset
type AssetContribution struct {
	Symbol       string  `json:"symbol"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Percentage   float64 `json:"percentage"`
}

// TailCalculator computes Value-at-Risk and Conditional Value-at-Risk.
// It holds configuration only and is safe for concurrent use.
type TailCalculator struct {
	config TailConfig
}

// NewTailCalculator creates a calculator with the given configuration
func NewTailCalculator(config TailConfig) *TailCalculator {
	defaults := DefaultTailConfig()
	if config.MinSamples <= 0 {
		config.MinSamples = defaults.MinSamples
	}
	if config.MarginalSamples <= 0 {
		config.MarginalSamples = defaults.MarginalSamples
	}
	if config.MarginalSamples < config.MinSamples {
		config.MarginalSamples = config.MinSamples
	}
	if config.Simulations <= 0 {
		config.Simulations = defaults.Simulations
	}
	return &TailCalculator{config: config}
}

// Config returns the calculator configuration
func (tc *TailCalculator) Config() TailConfig {
	return tc.config
}

// CalculateHistorical estimates VaR and CVaR by historical simulation
func (tc *TailCalculator) CalculateHistorical(returns []float64, portfolioValue, confidence float64) (TailEstimate, error) {
	const op = "CalculateHistorical"

	alphaPct, err := tc.validate(op, returns, portfolioValue, confidence)
	if err != nil {
		return TailEstimate{}, err
	}

	sorted := ReturnSeries(returns).Sorted()
	n := len(sorted)

	varIndex := floorTail(n, alphaPct)
	if varIndex >= n {
		varIndex = n - 1
	}
	varAmount := math.Abs(sorted[varIndex] * portfolioValue)

	cutoff := ceilTail(n, alphaPct)
	cvarAmount := math.Abs(sorted[:cutoff].Mean() * portfolioValue)

	return TailEstimate{
		Method:           MethodHistorical,
		Confidence:       confidence,
		VaR:              varAmount,
		CVaR:             cvarAmount,
		TailRisk:         tailRisk(cvarAmount, varAmount),
		Observations:     n,
		TailObservations: cutoff,
	}, nil
}

// CalculateParametric estimates CVaR under a normal assumption. It is faster and
// less accurate than historical simulation for fat-tailed returns.
func (tc *TailCalculator) CalculateParametric(returns []float64, portfolioValue, confidence float64) (float64, error) {
	const op = "CalculateParametric"

	z, ok := zScores[confidence]
	if !ok {
		return 0, NewUnsupportedConfidenceError(op, confidence)
	}
	if len(returns) < 2 {
		return 0, NewInsufficientDataError(op, 2, len(returns))
	}
	if err := validateFinite(op, returns, portfolioValue); err != nil {
		return 0, err
	}

	series := ReturnSeries(returns)
	mu := series.Mean()
	sigma := series.StdDev()
	alpha := (100 - confidence) / 100

	cvarReturn := mu - sigma*standardNormalPDF(z)/alpha
	return math.Abs(cvarReturn * portfolioValue), nil
}

// CalculateMonteCarlo draws normal returns with the sample mean and deviation
// and applies the historical index rules to the simulated distribution. The
// generator is seeded per call so results are reproducible.
func (tc *TailCalculator) CalculateMonteCarlo(returns []float64, portfolioValue, confidence float64) (TailEstimate, error) {
	const op = "CalculateMonteCarlo"

	if _, err := tc.validate(op, returns, portfolioValue, confidence); err != nil {
		return TailEstimate{}, err
	}

	series := ReturnSeries(returns)
	mu, sigma := series.Mean(), series.StdDev()
	rng := rand.New(rand.NewSource(tc.config.Seed))

	simulated := make([]float64, tc.config.Simulations)
	for i := range simulated {
		simulated[i] = normalDraw(rng, mu, sigma)
	}

	estimate, err := tc.CalculateHistorical(simulated, portfolioValue, confidence)
	if err != nil {
		return TailEstimate{}, err
	}
	estimate.Method = MethodMonteCarlo
	return estimate, nil
}

// Estimate always runs historical simulation and escalates to the parametric
// method when the sample count is marginal, keeping the more conservative CVaR.
func (tc *TailCalculator) Estimate(returns []float64, portfolioValue, confidence float64) (TailEstimate, error) {
	estimate, err := tc.CalculateHistorical(returns, portfolioValue, confidence)
	if err != nil {
		return TailEstimate{}, err
	}
	if len(returns) >= tc.config.MarginalSamples {
		return estimate, nil
	}

	parametric, err := tc.CalculateParametric(returns, portfolioValue, confidence)
	if err != nil {
		return TailEstimate{}, err
	}

	estimate.Escalated = true
	estimate.ParametricCVaR = parametric
	if parametric > estimate.CVaR {
		estimate.Method = MethodHistorical + "+" + MethodParametric
		estimate.CVaR = parametric
		estimate.TailRisk = tailRisk(estimate.CVaR, estimate.VaR)
	}
	return estimate, nil
}

// CalculateVaR reports historical VaR at 95% and 99%
func (tc *TailCalculator) CalculateVaR(returns []float64, portfolioValue float64) (VaRResult, error) {
	at95, err := tc.CalculateHistorical(returns, portfolioValue, Confidence95)
	if err != nil {
		return VaRResult{}, err
	}
	at99, err := tc.CalculateHistorical(returns, portfolioValue, Confidence99)
	if err != nil {
		return VaRResult{}, err
	}

	return VaRResult{
		Var95:             at95.VaR,
		Var99:             at99.VaR,
		PortfolioValue:    portfolioValue,
		HistoricalReturns: append([]float64(nil), returns...),
		CalculatedAt:      time.Now().UTC(),
	}, nil
}

// CalculateCVaR reports historical CVaR, VaR and tail-risk ratios at 95% and 99%
func (tc *TailCalculator) CalculateCVaR(returns []float64, portfolioValue float64) (CVaRResult, error) {
	at95, err := tc.CalculateHistorical(returns, portfolioValue, Confidence95)
	if err != nil {
		return CVaRResult{}, err
	}
	at99, err := tc.CalculateHistorical(returns, portfolioValue, Confidence99)
	if err != nil {
		return CVaRResult{}, err
	}

	return CVaRResult{
		CVaR95:            at95.CVaR,
		CVaR99:            at99.CVaR,
		Var95:             at95.VaR,
		Var99:             at99.VaR,
		TailRisk95:        at95.TailRisk,
		TailRisk99:        at99.TailRisk,
		HistoricalReturns: append([]float64(nil), returns...),
		CalculatedAt:      time.Now().UTC(),
	}, nil
}

// IdentifyWorstScenarios returns the worst returns that make up the CVaR tail,
// worst first
func (tc *TailCalculator) IdentifyWorstScenarios(returns []float64, confidence float64) ([]float64, error) {
	alphaPct, err := tc.validate("IdentifyWorstScenarios", returns, 1, confidence)
	if err != nil {
		return nil, err
	}
	sorted := ReturnSeries(returns).Sorted()
	return append([]float64(nil), sorted[:ceilTail(len(sorted), alphaPct)]...), nil
}

// ContributionByAsset attributes the portfolio tail loss to individual assets.
// The tail window is the set of days with the worst weighted portfolio return,
// the same window used for portfolio CVaR; each asset contributes the mean of
// its weighted return over those days.
func (tc *TailCalculator) ContributionByAsset(assetReturns map[string][]float64, weights map[string]float64, portfolioValue, confidence float64) ([]AssetContribution, error) {
	const op = "ContributionByAsset"

	if len(assetReturns) == 0 {
		return nil, NewInvalidInputError(op, "no asset return series supplied")
	}

	symbols := make([]string, 0, len(assetReturns))
	for symbol := range assetReturns {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	n := len(assetReturns[symbols[0]])
	for _, symbol := range symbols {
		if len(assetReturns[symbol]) != n {
			return nil, NewAlignmentError(op, "asset series differ in length").
				WithDetails("symbol", symbol).
				WithExpected("length", n).
				WithDetails("length", len(assetReturns[symbol]))
		}
		if _, ok := weights[symbol]; !ok {
			return nil, NewInvalidInputError(op, "missing weight for asset").WithDetails("symbol", symbol)
		}
	}

	portfolio := make([]float64, n)
	for _, symbol := range symbols {
		w := weights[symbol]
		for t, r := range assetReturns[symbol] {
			portfolio[t] += w * r
		}
	}

	alphaPct, err := tc.validate(op, portfolio, portfolioValue, confidence)
	if err != nil {
		return nil, err
	}

	days := make([]int, n)
	for i := range days {
		days[i] = i
	}
	sort.SliceStable(days, func(i, j int) bool { return portfolio[days[i]] < portfolio[days[j]] })
	tail := days[:ceilTail(n, alphaPct)]

	contributions := make([]AssetContribution, 0, len(symbols))
	var total float64
	for _, symbol := range symbols {
		w := weights[symbol]
		var sum float64
		for _, day := range tail {
			sum += w * assetReturns[symbol][day]
		}
		loss := -(sum / float64(len(tail))) * portfolioValue
		total += loss
		contributions = append(contributions, AssetContribution{
			Symbol:       symbol,
			Weight:       w,
			Contribution: loss,
		})
	}

	if total != 0 {
		for i := range contributions {
			contributions[i].Percentage = contributions[i].Contribution / total * 100
		}
	}

	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].Contribution > contributions[j].Contribution
	})
	return contributions, nil
}

// validate checks the shared preconditions and returns the tail size in percent
func (tc *TailCalculator) validate(op string, returns []float64, portfolioValue, confidence float64) (int, error) {
	if _, ok := zScores[confidence]; !ok {
		return 0, NewUnsupportedConfidenceError(op, confidence)
	}
	if len(returns) < tc.config.MinSamples {
		return 0, NewInsufficientDataError(op, tc.config.MinSamples, len(returns))
	}
	if err := validateFinite(op, returns, portfolioValue); err != nil {
		return 0, err
	}
	return int(100 - confidence), nil
}

func validateFinite(op string, returns []float64, portfolioValue float64) error {
	if !isFinite(portfolioValue) {
		return NewInvalidInputError(op, "portfolio value must be finite")
	}
	for i, r := range returns {
		if !isFinite(r) {
			return NewInvalidInputError(op, "returns must be finite").WithDetails("index", i)
		}
	}
	return nil
}

// floorTail computes floor(n·α) with α expressed in whole percent, exactly
func floorTail(n, alphaPct int) int {
	return n * alphaPct / 100
}

// ceilTail computes ceil(n·α), never less than one observation
func ceilTail(n, alphaPct int) int {
	c := (n*alphaPct + 99) / 100
	if c < 1 {
		c = 1
	}
	if c > n {
		c = n
	}
	return c
}

func tailRisk(cvar, varAmount float64) float64 {
	if varAmount == 0 {
		return 0
	}
	return cvar / varAmount
}

func standardNormalPDF(z float64) float64 {
	return math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
}

// normalDraw uses the Box-Muller transform
func normalDraw(rng *rand.Rand, mean, stddev float64) float64 {
	u1 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	z0 := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + stddev*z0
}
