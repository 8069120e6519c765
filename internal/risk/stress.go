package risk

import (
	"fmt"
	"math"
	"sort"
)

// StressConfig contains the thresholds and weights used to flag and score
// stress outcomes. Percentages are of portfolio notional.
type StressConfig struct {
	LiquidationBase        float64 `json:"liquidation_base"`
	MarginCallRatio        float64 `json:"margin_call_ratio"`
	HighLeverageThreshold  float64 `json:"high_leverage_threshold"`
	ConcentrationThreshold float64 `json:"concentration_threshold"`
	LowResilienceThreshold float64 `json:"low_resilience_threshold"`

	LossWeight        float64 `json:"loss_weight"`
	LeverageWeight    float64 `json:"leverage_weight"`
	LiquidationWeight float64 `json:"liquidation_weight"`
	MarginCallWeight  float64 `json:"margin_call_weight"`
}

// DefaultStressConfig returns the production thresholds
func DefaultStressConfig() StressConfig {
	return StressConfig{
		LiquidationBase:        80,
		MarginCallRatio:        0.5,
		HighLeverageThreshold:  3,
		ConcentrationThreshold: 50,
		LowResilienceThreshold: 50,
		LossWeight:             0.5,
		LeverageWeight:         2,
		LiquidationWeight:      10,
		MarginCallWeight:       5,
	}
}

// PositionImpact is the effect of one scenario on one position. Loss is
// leveraged, so the impacts of a scenario sum to its Loss.
type PositionImpact struct {
	Symbol         string  `json:"symbol"`
	Quantity       float64 `json:"quantity"`
	CurrentPrice   float64 `json:"current_price"`
	ShockedPrice   float64 `json:"shocked_price"`
	Shock          float64 `json:"shock"`
	Loss           float64 `json:"loss"`
	LossPercentage float64 `json:"loss_percentage"`
}

// ScenarioResult is the outcome of one scenario. A negative Loss is a gain.
type ScenarioResult struct {
	Scenario        string           `json:"scenario"`
	Description     string           `json:"description"`
	Loss            float64          `json:"loss"`
	LossPercentage  float64          `json:"loss_percentage"`
	LiquidationRisk bool             `json:"liquidation_risk"`
	MarginCallRisk  bool             `json:"margin_call_risk"`
	PositionImpacts []PositionImpact `json:"position_impacts"`
}

// StressTestSummary aggregates every scenario of a stress run
type StressTestSummary struct {
	Leverage        float64          `json:"leverage"`
	PortfolioValue  float64          `json:"portfolio_value"`
	Scenarios       []ScenarioResult `json:"scenarios"`
	WorstCase       ScenarioResult   `json:"worst_case"`
	BestCase        ScenarioResult   `json:"best_case"`
	AverageLoss     float64          `json:"average_loss"`
	ResilienceScore float64          `json:"resilience_score"`
	Recommendations []string         `json:"recommendations"`
}

// StressEngine applies price shocks to a set of positions
type StressEngine struct {
	config  StressConfig
	library *ScenarioLibrary
}

// NewStressEngine creates an engine. A nil library selects the built-in
// historical scenarios.
func NewStressEngine(config StressConfig, library *ScenarioLibrary) *StressEngine {
	if library == nil {
		library = HistoricalScenarios()
	}
	return &StressEngine{config: config, library: library}
}

// Library returns the engine's default scenarios
func (se *StressEngine) Library() *ScenarioLibrary {
	return se.library
}

// Config returns the engine configuration
func (se *StressEngine) Config() StressConfig {
	return se.config
}

// LiquidationThreshold is the loss percentage at which a position of the
// given leverage exhausts its margin
func (se *StressEngine) LiquidationThreshold(leverage float64) float64 {
	return se.config.LiquidationBase / leverage
}

// MarginCallThreshold is the warning level below the liquidation threshold
func (se *StressEngine) MarginCallThreshold(leverage float64) float64 {
	return se.config.MarginCallRatio * se.LiquidationThreshold(leverage)
}

// RunStressTest evaluates every scenario against the positions. Passing nil
// scenarios runs the engine library.
func (se *StressEngine) RunStressTest(positions []Position, leverage float64, scenarios []Scenario) (StressTestSummary, error) {
	const op = "RunStressTest"

	if !isFinite(leverage) || leverage <= 0 {
		return StressTestSummary{}, NewConfigurationError(op, "leverage must be positive").
			WithDetails("leverage", leverage)
	}
	if scenarios == nil {
		scenarios = se.library.Scenarios()
	}
	if len(scenarios) == 0 {
		return StressTestSummary{}, NewConfigurationError(op, "at least one scenario is required")
	}

	var portfolioValue float64
	for _, p := range positions {
		if err := p.validate(op); err != nil {
			return StressTestSummary{}, err
		}
		portfolioValue += math.Abs(p.MarketValue())
	}

	summary := StressTestSummary{
		Leverage:       leverage,
		PortfolioValue: portfolioValue,
		Scenarios:      make([]ScenarioResult, 0, len(scenarios)),
	}
	for _, s := range scenarios {
		if err := s.validate(op); err != nil {
			return StressTestSummary{}, err
		}
		summary.Scenarios = append(summary.Scenarios, se.applyScenario(positions, leverage, portfolioValue, s))
	}

	worst, best := 0, 0
	var totalLoss, totalLossPct float64
	var liquidations, marginCalls int
	for i, r := range summary.Scenarios {
		if r.Loss > summary.Scenarios[worst].Loss {
			worst = i
		}
		if r.Loss < summary.Scenarios[best].Loss {
			best = i
		}
		totalLoss += r.Loss
		totalLossPct += r.LossPercentage
		if r.LiquidationRisk {
			liquidations++
		}
		if r.MarginCallRisk {
			marginCalls++
		}
	}

	n := float64(len(summary.Scenarios))
	summary.WorstCase = summary.Scenarios[worst]
	summary.BestCase = summary.Scenarios[best]
	summary.AverageLoss = totalLoss / n
	summary.ResilienceScore = se.resilienceScore(totalLossPct/n, leverage, liquidations, marginCalls)
	summary.Recommendations = se.recommendations(summary, liquidations)

	return summary, nil
}

func (se *StressEngine) applyScenario(positions []Position, leverage, portfolioValue float64, s Scenario) ScenarioResult {
	result := ScenarioResult{
		Scenario:        s.Name,
		Description:     s.Description,
		PositionImpacts: make([]PositionImpact, 0, len(positions)),
	}

	for _, p := range positions {
		shock := s.Shock(p.Symbol)
		shocked := p.CurrentPrice * (1 + shock/100)
		loss := leverage * (p.CurrentPrice - shocked) * p.Quantity

		result.Loss += loss
		result.PositionImpacts = append(result.PositionImpacts, PositionImpact{
			Symbol:         p.Symbol,
			Quantity:       p.Quantity,
			CurrentPrice:   p.CurrentPrice,
			ShockedPrice:   shocked,
			Shock:          shock,
			Loss:           loss,
			LossPercentage: -shock,
		})
	}

	if portfolioValue > 0 {
		result.LossPercentage = result.Loss / portfolioValue * 100
	}
	result.LiquidationRisk = result.LossPercentage >= se.LiquidationThreshold(leverage)
	result.MarginCallRisk = result.LossPercentage >= se.MarginCallThreshold(leverage)
	return result
}

func (se *StressEngine) resilienceScore(avgLossPct, leverage float64, liquidations, marginCalls int) float64 {
	score := 100 -
		se.config.LossWeight*math.Max(avgLossPct, 0) -
		se.config.LeverageWeight*(leverage-1) -
		se.config.LiquidationWeight*float64(liquidations) -
		se.config.MarginCallWeight*float64(marginCalls)
	return math.Max(0, math.Min(100, score))
}

func (se *StressEngine) recommendations(summary StressTestSummary, liquidations int) []string {
	var recs []string

	if summary.Leverage > se.config.HighLeverageThreshold {
		recs = append(recs, fmt.Sprintf(
			"Reduce leverage from %.1fx to %.0fx or below to limit amplified losses",
			summary.Leverage, se.config.HighLeverageThreshold))
	}

	if symbol, share, ok := dominantLoss(summary.WorstCase); ok && share > se.config.ConcentrationThreshold {
		recs = append(recs, fmt.Sprintf(
			"Diversify: %s carries %.0f%% of the loss in %s",
			symbol, share, summary.WorstCase.Scenario))
	}

	if liquidations > 0 {
		recs = append(recs, fmt.Sprintf(
			"Liquidation risk in %d of %d scenarios: add margin or cut position sizes",
			liquidations, len(summary.Scenarios)))
	}

	if summary.ResilienceScore < se.config.LowResilienceThreshold {
		recs = append(recs, "Low resilience score: consider hedging downside with stablecoins or short exposure")
	}

	if len(recs) == 0 {
		recs = append(recs, "Portfolio is resilient across the tested scenarios")
	}
	return recs
}

// dominantLoss returns the symbol with the largest share of a positive
// scenario loss, aggregated across positions in the same symbol
func dominantLoss(r ScenarioResult) (string, float64, bool) {
	if r.Loss <= 0 {
		return "", 0, false
	}

	bySymbol := make(map[string]float64)
	for _, impact := range r.PositionImpacts {
		bySymbol[impact.Symbol] += impact.Loss
	}
	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var top string
	var topLoss float64
	for _, symbol := range symbols {
		if bySymbol[symbol] > topLoss {
			top, topLoss = symbol, bySymbol[symbol]
		}
	}
	if top == "" {
		return "", 0, false
	}
	return top, topLoss / r.Loss * 100, true
}
