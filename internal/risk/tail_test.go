package risk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleReturns = []float64{-0.08, -0.05, -0.03, -0.02, -0.01, 0, 0.01, 0.02, 0.03, 0.05}

func newTestTailCalculator() *TailCalculator {
	return NewTailCalculator(DefaultTailConfig())
}

func TestTailCalculator_CalculateHistorical(t *testing.T) {
	calc := newTestTailCalculator()

	t.Run("smallest sample uses the worst return", func(t *testing.T) {
		est, err := calc.CalculateHistorical(sampleReturns, 100000, Confidence95)
		require.NoError(t, err)

		assert.Equal(t, MethodHistorical, est.Method)
		assert.InDelta(t, 8000, est.VaR, 1e-9)
		assert.InDelta(t, 8000, est.CVaR, 1e-9)
		assert.InDelta(t, 1.0, est.TailRisk, 1e-12)
		assert.Equal(t, 10, est.Observations)
		assert.Equal(t, 1, est.TailObservations)
	})

	t.Run("input order does not matter", func(t *testing.T) {
		shuffled := []float64{0.03, -0.01, 0.05, -0.08, 0, 0.02, -0.03, 0.01, -0.05, -0.02}
		a, err := calc.CalculateHistorical(sampleReturns, 1000, Confidence99)
		require.NoError(t, err)
		b, err := calc.CalculateHistorical(shuffled, 1000, Confidence99)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("index rules on a larger sample", func(t *testing.T) {
		// 100 returns: -1.00, -0.99, ..., -0.01
		returns := make([]float64, 100)
		for i := range returns {
			returns[i] = -float64(100-i) / 100
		}

		est, err := calc.CalculateHistorical(returns, 1, Confidence95)
		require.NoError(t, err)
		// varIndex = floor(100*0.05) = 5, cutoff = ceil(5) = 5
		assert.InDelta(t, 0.95, est.VaR, 1e-12)
		assert.InDelta(t, (1.00+0.99+0.98+0.97+0.96)/5, est.CVaR, 1e-12)
		assert.Equal(t, 5, est.TailObservations)

		est, err = calc.CalculateHistorical(returns, 1, Confidence99)
		require.NoError(t, err)
		assert.InDelta(t, 0.99, est.VaR, 1e-12)
		assert.InDelta(t, 1.00, est.CVaR, 1e-12)
	})

	t.Run("zero VaR yields zero tail risk", func(t *testing.T) {
		returns := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0.01}
		est, err := calc.CalculateHistorical(returns, 1000, Confidence95)
		require.NoError(t, err)
		assert.Zero(t, est.VaR)
		assert.Zero(t, est.TailRisk)
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := calc.CalculateHistorical(sampleReturns[:9], 1000, Confidence95)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientData)

		re, ok := AsRiskError(err)
		require.True(t, ok)
		assert.Equal(t, ErrCodeInsufficientData, re.Code)
		assert.Equal(t, 10, re.Details.ExpectedData["min_observations"])
		assert.Equal(t, 9, re.Details.ActualData["provided_observations"])
	})

	t.Run("unsupported confidence", func(t *testing.T) {
		_, err := calc.CalculateHistorical(sampleReturns, 1000, 90)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("non-finite returns rejected", func(t *testing.T) {
		bad := append([]float64{math.NaN()}, sampleReturns...)
		_, err := calc.CalculateHistorical(bad, 1000, Confidence95)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestTailCalculator_CVaRNeverBelowVaR(t *testing.T) {
	calc := newTestTailCalculator()
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 200; trial++ {
		n := 10 + rng.Intn(250)
		returns := make([]float64, n)
		for i := range returns {
			returns[i] = rng.NormFloat64() * 0.04
		}
		// keep the worst return a loss so the absolute values order the same way
		returns[0] = -0.2

		for _, c := range SupportedConfidenceLevels() {
			est, err := calc.CalculateHistorical(returns, 50000, c)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, est.CVaR, est.VaR-1e-9, "n=%d confidence=%v", n, c)
			assert.InDelta(t, est.CVaR/est.VaR, est.TailRisk, 1e-12)
		}
	}
}

func TestTailCalculator_CalculateParametric(t *testing.T) {
	calc := newTestTailCalculator()

	t.Run("matches closed form", func(t *testing.T) {
		series := ReturnSeries(sampleReturns)
		mu, sigma := series.Mean(), series.StdDev()
		phi := math.Exp(-1.645*1.645/2) / math.Sqrt(2*math.Pi)
		want := math.Abs((mu - sigma*phi/0.05) * 10000)

		got, err := calc.CalculateParametric(sampleReturns, 10000, Confidence95)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-6)
	})

	t.Run("constant returns collapse to the mean", func(t *testing.T) {
		returns := []float64{-0.01, -0.01, -0.01, -0.01}
		got, err := calc.CalculateParametric(returns, 1000, Confidence99)
		require.NoError(t, err)
		assert.InDelta(t, 10, got, 1e-9)
	})

	t.Run("unsupported confidence", func(t *testing.T) {
		_, err := calc.CalculateParametric(sampleReturns, 1000, 97.5)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestTailCalculator_Estimate(t *testing.T) {
	calc := newTestTailCalculator()

	t.Run("marginal sample escalates to the more conservative CVaR", func(t *testing.T) {
		hist, err := calc.CalculateHistorical(sampleReturns, 10000, Confidence95)
		require.NoError(t, err)
		param, err := calc.CalculateParametric(sampleReturns, 10000, Confidence95)
		require.NoError(t, err)

		est, err := calc.Estimate(sampleReturns, 10000, Confidence95)
		require.NoError(t, err)
		assert.True(t, est.Escalated)
		assert.InDelta(t, param, est.ParametricCVaR, 1e-9)
		assert.InDelta(t, math.Max(hist.CVaR, param), est.CVaR, 1e-9)
		assert.InDelta(t, hist.VaR, est.VaR, 1e-9)
	})

	t.Run("adequate sample stays historical", func(t *testing.T) {
		returns := make([]float64, 40)
		for i := range returns {
			returns[i] = float64(i-20) / 1000
		}
		est, err := calc.Estimate(returns, 1000, Confidence95)
		require.NoError(t, err)
		assert.False(t, est.Escalated)
		assert.Equal(t, MethodHistorical, est.Method)
	})

	t.Run("below minimum still fails", func(t *testing.T) {
		_, err := calc.Estimate(sampleReturns[:5], 1000, Confidence95)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}

func TestTailCalculator_CalculateVaRAndCVaR(t *testing.T) {
	calc := newTestTailCalculator()

	v, err := calc.CalculateVaR(sampleReturns, 50000)
	require.NoError(t, err)
	assert.InDelta(t, 4000, v.Var95, 1e-9)
	assert.InDelta(t, 4000, v.Var99, 1e-9)
	assert.Equal(t, 50000.0, v.PortfolioValue)
	assert.Equal(t, sampleReturns, v.HistoricalReturns)
	assert.False(t, v.CalculatedAt.IsZero())

	c, err := calc.CalculateCVaR(sampleReturns, 50000)
	require.NoError(t, err)
	assert.InDelta(t, 4000, c.CVaR95, 1e-9)
	assert.InDelta(t, 4000, c.CVaR99, 1e-9)
	assert.InDelta(t, 1, c.TailRisk95, 1e-12)
	assert.InDelta(t, 1, c.TailRisk99, 1e-12)

	_, err = calc.CalculateCVaR(nil, 50000)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTailCalculator_IdentifyWorstScenarios(t *testing.T) {
	calc := newTestTailCalculator()

	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = float64(20-i) / 100
	}
	worst, err := calc.IdentifyWorstScenarios(returns, Confidence95)
	require.NoError(t, err)
	// ceil(40*0.05) = 2
	assert.Equal(t, []float64{-0.19, -0.18}, worst)
}

func TestTailCalculator_ContributionByAsset(t *testing.T) {
	calc := newTestTailCalculator()

	btc := []float64{-0.10, 0.02, 0.01, -0.01, 0.03, 0.00, 0.02, -0.02, 0.01, 0.04}
	eth := []float64{-0.20, 0.01, 0.02, -0.03, 0.05, 0.01, -0.01, -0.04, 0.02, 0.03}
	weights := map[string]float64{"BTCUSDT": 0.6, "ETHUSDT": 0.4}

	contribs, err := calc.ContributionByAsset(
		map[string][]float64{"BTCUSDT": btc, "ETHUSDT": eth}, weights, 10000, Confidence95)
	require.NoError(t, err)
	require.Len(t, contribs, 2)

	// the worst portfolio day is day 0: 0.6*-0.10 + 0.4*-0.20 = -0.14
	byName := map[string]AssetContribution{}
	var total float64
	for _, c := range contribs {
		byName[c.Symbol] = c
		total += c.Contribution
	}
	assert.InDelta(t, 600, byName["BTCUSDT"].Contribution, 1e-9)
	assert.InDelta(t, 800, byName["ETHUSDT"].Contribution, 1e-9)
	assert.Equal(t, "ETHUSDT", contribs[0].Symbol)

	portfolio := make([]float64, len(btc))
	for i := range btc {
		portfolio[i] = 0.6*btc[i] + 0.4*eth[i]
	}
	est, err := calc.CalculateHistorical(portfolio, 10000, Confidence95)
	require.NoError(t, err)
	assert.InDelta(t, est.CVaR, total, 1e-9)
	assert.InDelta(t, 100, byName["BTCUSDT"].Percentage+byName["ETHUSDT"].Percentage, 1e-9)

	t.Run("misaligned series", func(t *testing.T) {
		_, err := calc.ContributionByAsset(
			map[string][]float64{"BTCUSDT": btc, "ETHUSDT": eth[:9]}, weights, 10000, Confidence95)
		assert.ErrorIs(t, err, ErrAlignment)
	})

	t.Run("missing weight", func(t *testing.T) {
		_, err := calc.ContributionByAsset(
			map[string][]float64{"BTCUSDT": btc, "SOLUSDT": eth}, weights, 10000, Confidence95)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestTailCalculator_CalculateMonteCarlo(t *testing.T) {
	calc := NewTailCalculator(TailConfig{MinSamples: 10, MarginalSamples: 30, Simulations: 5000, Seed: 99})

	a, err := calc.CalculateMonteCarlo(sampleReturns, 10000, Confidence95)
	require.NoError(t, err)
	b, err := calc.CalculateMonteCarlo(sampleReturns, 10000, Confidence95)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, MethodMonteCarlo, a.Method)
	assert.Equal(t, 5000, a.Observations)
	assert.Greater(t, a.VaR, 0.0)
	assert.GreaterOrEqual(t, a.CVaR, a.VaR)
}

func TestNewTailCalculator_Defaults(t *testing.T) {
	calc := NewTailCalculator(TailConfig{})
	cfg := calc.Config()
	assert.Equal(t, 10, cfg.MinSamples)
	assert.Equal(t, 30, cfg.MarginalSamples)
	assert.Equal(t, 10000, cfg.Simulations)
}

func TestNewTailCalculator_MarginalSamples(t *testing.T) {
	t.Run("zero takes the default", func(t *testing.T) {
		cfg := NewTailCalculator(TailConfig{MinSamples: 10}).Config()
		assert.Equal(t, DefaultTailConfig().MarginalSamples, cfg.MarginalSamples)
	})

	t.Run("zero raised to a larger minimum", func(t *testing.T) {
		cfg := NewTailCalculator(TailConfig{MinSamples: 50}).Config()
		assert.Equal(t, 50, cfg.MarginalSamples)
	})

	t.Run("explicit value below minimum is clamped", func(t *testing.T) {
		cfg := NewTailCalculator(TailConfig{MinSamples: 10, MarginalSamples: 5}).Config()
		assert.Equal(t, 10, cfg.MarginalSamples)
	})

	t.Run("zero config still escalates small samples", func(t *testing.T) {
		returns := make([]float64, 20)
		for i := range returns {
			returns[i] = float64(i-10) / 1000
		}
		est, err := NewTailCalculator(TailConfig{}).Estimate(returns, 1000, Confidence95)
		require.NoError(t, err)
		assert.True(t, est.Escalated)
	})
}
