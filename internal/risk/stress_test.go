package risk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustScenario(t *testing.T, name string, shocks map[string]float64) Scenario {
	t.Helper()
	s, err := CreateCustomScenario(name, name, shocks)
	require.NoError(t, err)
	return s
}

func TestStressEngine_SinglePositionExample(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)
	positions := []Position{{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 50000}}

	summary, err := engine.RunStressTest(positions, 1, []Scenario{
		mustScenario(t, "halving", map[string]float64{"BTCUSDT": -50}),
	})
	require.NoError(t, err)
	require.Len(t, summary.Scenarios, 1)

	r := summary.Scenarios[0]
	assert.InDelta(t, 25000, r.Loss, 1e-6)
	assert.InDelta(t, 50, r.LossPercentage, 1e-9)
	assert.False(t, r.LiquidationRisk)
	assert.True(t, r.MarginCallRisk)

	require.Len(t, r.PositionImpacts, 1)
	assert.InDelta(t, 25000, r.PositionImpacts[0].ShockedPrice, 1e-9)
	assert.InDelta(t, 50, r.PositionImpacts[0].LossPercentage, 1e-9)
}

func TestStressEngine_MixedAssetExample(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)
	positions := []Position{
		{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 50000},
		{Symbol: "ETHUSDT", Quantity: 10, CurrentPrice: 3000},
	}

	summary, err := engine.RunStressTest(positions, 1, []Scenario{
		mustScenario(t, "mixed", map[string]float64{"BTCUSDT": -30, "ETHUSDT": -40}),
	})
	require.NoError(t, err)

	r := summary.Scenarios[0]
	assert.InDelta(t, 30, r.PositionImpacts[0].LossPercentage, 1e-9)
	assert.InDelta(t, 40, r.PositionImpacts[1].LossPercentage, 1e-9)
	assert.InDelta(t, 15000, r.PositionImpacts[0].Loss, 1e-6)
	assert.InDelta(t, 12000, r.PositionImpacts[1].Loss, 1e-6)
	assert.InDelta(t, 27000, r.Loss, 1e-6)
	assert.InDelta(t, 27000.0/80000*100, r.LossPercentage, 1e-9)
}

func TestStressEngine_LossIsLinearInLeverage(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)
	positions := []Position{
		{Symbol: "BTCUSDT", Quantity: 0.7, CurrentPrice: 64000},
		{Symbol: "ETHUSDT", Quantity: -5, CurrentPrice: 3100},
		{Symbol: "SOLUSDT", Quantity: 40, CurrentPrice: 140},
		{Symbol: "DOTUSDT", Quantity: 100, CurrentPrice: 7},
	}

	base, err := engine.RunStressTest(positions, 1, nil)
	require.NoError(t, err)

	for _, k := range []float64{0.5, 2, 3, 10} {
		levered, err := engine.RunStressTest(positions, k, nil)
		require.NoError(t, err)
		require.Len(t, levered.Scenarios, len(base.Scenarios))

		for i := range base.Scenarios {
			assert.InDelta(t, k*base.Scenarios[i].Loss, levered.Scenarios[i].Loss, 1e-6,
				"scenario %s leverage %v", base.Scenarios[i].Scenario, k)
		}
		assert.InDelta(t, k*base.AverageLoss, levered.AverageLoss, 1e-6)
	}
}

func TestStressEngine_ImpactsSumToScenarioLoss(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)
	positions := []Position{
		{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 50000},
		{Symbol: "ETHUSDT", Quantity: 10, CurrentPrice: 3000},
	}

	summary, err := engine.RunStressTest(positions, 4, nil)
	require.NoError(t, err)
	for _, r := range summary.Scenarios {
		var sum float64
		for _, impact := range r.PositionImpacts {
			sum += impact.Loss
		}
		assert.InDelta(t, r.Loss, sum, 1e-6, r.Scenario)
	}
}

func TestStressEngine_ResilienceDecreasesWithLeverage(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)
	positions := []Position{{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 50000}}
	scenarios := []Scenario{mustScenario(t, "dip", map[string]float64{"BTCUSDT": -10})}

	low, err := engine.RunStressTest(positions, 1, scenarios)
	require.NoError(t, err)
	high, err := engine.RunStressTest(positions, 10, scenarios)
	require.NoError(t, err)

	// L=1: 100 - 0.5*10 = 95
	assert.InDelta(t, 95, low.ResilienceScore, 1e-9)
	// L=10: 100 - 0.5*100 - 2*9 - 10 - 5 = 17
	assert.InDelta(t, 17, high.ResilienceScore, 1e-9)
	assert.Greater(t, low.ResilienceScore, high.ResilienceScore)

	t.Run("library scenarios", func(t *testing.T) {
		positions := []Position{
			{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 50000},
			{Symbol: "ETHUSDT", Quantity: 10, CurrentPrice: 3000},
		}
		low, err := engine.RunStressTest(positions, 1, nil)
		require.NoError(t, err)
		high, err := engine.RunStressTest(positions, 10, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, low.ResilienceScore, high.ResilienceScore)
		assert.GreaterOrEqual(t, high.ResilienceScore, 0.0)
		assert.LessOrEqual(t, low.ResilienceScore, 100.0)
	})
}

func TestStressEngine_Thresholds(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)

	assert.InDelta(t, 80, engine.LiquidationThreshold(1), 1e-12)
	assert.InDelta(t, 8, engine.LiquidationThreshold(10), 1e-12)
	assert.InDelta(t, 40, engine.MarginCallThreshold(1), 1e-12)
	assert.Less(t, engine.MarginCallThreshold(5), engine.LiquidationThreshold(5))
}

func TestStressEngine_Aggregates(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)
	positions := []Position{{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 10000}}

	summary, err := engine.RunStressTest(positions, 1, []Scenario{
		mustScenario(t, "rally", map[string]float64{"BTCUSDT": 20}),
		mustScenario(t, "crash", map[string]float64{"BTCUSDT": -40}),
		mustScenario(t, "flat", map[string]float64{"ETHUSDT": -90}),
	})
	require.NoError(t, err)

	assert.Equal(t, "crash", summary.WorstCase.Scenario)
	assert.Equal(t, "rally", summary.BestCase.Scenario)
	assert.InDelta(t, -2000, summary.BestCase.Loss, 1e-6)
	assert.InDelta(t, (4000-2000+0)/3.0, summary.AverageLoss, 1e-6)
	assert.InDelta(t, 10000, summary.PortfolioValue, 1e-9)
}

func TestStressEngine_Recommendations(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)

	t.Run("high leverage and concentration", func(t *testing.T) {
		positions := []Position{
			{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 50000},
			{Symbol: "ETHUSDT", Quantity: 1, CurrentPrice: 3000},
		}
		summary, err := engine.RunStressTest(positions, 5, nil)
		require.NoError(t, err)

		joined := strings.Join(summary.Recommendations, "\n")
		assert.Contains(t, joined, "Reduce leverage")
		assert.Contains(t, joined, "Diversify: BTCUSDT")
		assert.Contains(t, joined, "Liquidation risk")
		assert.Contains(t, joined, "Low resilience")
	})

	t.Run("resilient portfolio", func(t *testing.T) {
		positions := []Position{
			{Symbol: "AAAUSDT", Quantity: 1, CurrentPrice: 100},
			{Symbol: "BBBUSDT", Quantity: 1, CurrentPrice: 100},
		}
		summary, err := engine.RunStressTest(positions, 1, []Scenario{
			mustScenario(t, "mild", map[string]float64{"AAAUSDT": -5, "BBBUSDT": -5}),
		})
		require.NoError(t, err)
		require.Len(t, summary.Recommendations, 1)
		assert.Contains(t, summary.Recommendations[0], "resilient")
	})
}

func TestStressEngine_Errors(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)
	positions := []Position{{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 50000}}

	for _, leverage := range []float64{0, -2} {
		_, err := engine.RunStressTest(positions, leverage, nil)
		assert.ErrorIs(t, err, ErrConfiguration, "leverage %v", leverage)
	}

	_, err := engine.RunStressTest(positions, 1, []Scenario{})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = engine.RunStressTest([]Position{{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: -1}}, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStressEngine_EmptyPortfolio(t *testing.T) {
	engine := NewStressEngine(DefaultStressConfig(), nil)

	summary, err := engine.RunStressTest(nil, 1, nil)
	require.NoError(t, err)
	for _, r := range summary.Scenarios {
		assert.Zero(t, r.Loss)
		assert.Zero(t, r.LossPercentage)
	}
}
