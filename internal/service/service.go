// Package service composes the risk calculators with the collaborators that
// supply portfolio history, positions, market data and limits.
package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

// Config holds the parameters of the service shell
type Config struct {
	Tail   risk.TailConfig
	Stress risk.StressConfig
	Gate   risk.GateConfig
	Beta   risk.BetaConfig

	HistoryDays  int
	RiskFreeRate float64
	FetchTimeout time.Duration
	Breaker      BreakerConfig
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Tail:         risk.DefaultTailConfig(),
		Stress:       risk.DefaultStressConfig(),
		Gate:         risk.DefaultGateConfig(),
		Beta:         risk.DefaultBetaConfig(),
		HistoryDays:  365,
		RiskFreeRate: risk.DefaultRiskFreeRate,
		FetchTimeout: 5 * time.Second,
		Breaker:      DefaultBreakerConfig(),
	}
}

// Recorder receives service-level measurements
type Recorder interface {
	StateObserver
	RecordGateDecision(allowed bool, violationTypes []string)
	RecordDependencyFailure(dependency, code string)
	ObserveCalculation(operation, result string, d time.Duration)
}

// Dependencies are the collaborators of the service. Market may be nil when
// beta is not served.
type Dependencies struct {
	History   ports.HistoricalPortfolioProvider
	Positions ports.PositionProvider
	Market    ports.MarketDataProvider
	Limits    ports.RiskLimitStore
}

// RiskService answers risk questions about stored portfolios
type RiskService struct {
	config   Config
	deps     Dependencies
	logger   *zap.Logger
	recorder Recorder

	tail   *risk.TailCalculator
	stress *risk.StressEngine
	gate   *risk.OrderGate
	beta   *risk.BetaEngine

	history   *dependency
	positions *dependency
	market    *dependency
	limits    *dependency

	sleep func(context.Context, time.Duration) error
}

// Option configures a RiskService
type Option func(*RiskService)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *RiskService) { s.logger = l }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *RiskService) { s.recorder = r }
}

// WithScenarioLibrary replaces the historical scenario library
func WithScenarioLibrary(lib *risk.ScenarioLibrary) Option {
	return func(s *RiskService) { s.stress = risk.NewStressEngine(s.config.Stress, lib) }
}

// New creates a RiskService
func New(cfg Config, deps Dependencies, opts ...Option) *RiskService {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 365
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker = DefaultBreakerConfig()
	}

	s := &RiskService{
		config: cfg,
		deps:   deps,
		logger: zap.NewNop(),
		tail:   risk.NewTailCalculator(cfg.Tail),
		stress: risk.NewStressEngine(cfg.Stress, nil),
		gate:   risk.NewOrderGate(cfg.Gate),
		beta:   risk.NewBetaEngine(cfg.Beta),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.history = newDependency(DependencyHistory, cfg.Breaker, s.logger, s.recorder)
	s.positions = newDependency(DependencyPositions, cfg.Breaker, s.logger, s.recorder)
	s.market = newDependency(DependencyMarket, cfg.Breaker, s.logger, s.recorder)
	s.limits = newDependency(DependencyLimits, cfg.Breaker, s.logger, s.recorder)
	return s
}

// Scenarios lists the scenarios available to stress tests
func (s *RiskService) Scenarios() []risk.Scenario {
	return s.stress.Library().Scenarios()
}

// ValueAtRisk computes historical VaR at 95% and 99% over the last days of
// history. The portfolio value is the latest recorded value.
func (s *RiskService) ValueAtRisk(ctx context.Context, portfolioID string, days int) (risk.VaRResult, error) {
	const op = "ValueAtRisk"
	start := time.Now()

	returns, value, err := s.loadReturns(ctx, op, portfolioID, days)
	if err != nil {
		return risk.VaRResult{}, s.finish(op, start, err)
	}
	result, err := s.tail.CalculateVaR(returns, value)
	if err != nil {
		return risk.VaRResult{}, s.finish(op, start, err)
	}

	s.logger.Info("value at risk calculated",
		zap.String("portfolio_id", portfolioID),
		zap.Int("observations", len(returns)),
		zap.Float64("var95", result.Var95),
		zap.Float64("var99", result.Var99))
	return result, s.finish(op, start, nil)
}

// ConditionalValueAtRisk computes historical CVaR at 95% and 99%
func (s *RiskService) ConditionalValueAtRisk(ctx context.Context, portfolioID string, days int) (risk.CVaRResult, error) {
	const op = "ConditionalValueAtRisk"
	start := time.Now()

	returns, value, err := s.loadReturns(ctx, op, portfolioID, days)
	if err != nil {
		return risk.CVaRResult{}, s.finish(op, start, err)
	}
	result, err := s.tail.CalculateCVaR(returns, value)
	if err != nil {
		return risk.CVaRResult{}, s.finish(op, start, err)
	}

	s.logger.Info("conditional value at risk calculated",
		zap.String("portfolio_id", portfolioID),
		zap.Int("observations", len(returns)),
		zap.Float64("cvar95", result.CVaR95),
		zap.Float64("cvar99", result.CVaR99))
	return result, s.finish(op, start, nil)
}

// TailEstimate runs the escalating estimator at one confidence level
func (s *RiskService) TailEstimate(ctx context.Context, portfolioID string, days int, confidence float64) (risk.TailEstimate, error) {
	const op = "TailEstimate"
	start := time.Now()

	returns, value, err := s.loadReturns(ctx, op, portfolioID, days)
	if err != nil {
		return risk.TailEstimate{}, s.finish(op, start, err)
	}
	estimate, err := s.tail.Estimate(returns, value, confidence)
	if err != nil {
		return risk.TailEstimate{}, s.finish(op, start, err)
	}

	if estimate.Escalated {
		s.logger.Info("tail estimate escalated to parametric cross-check",
			zap.String("portfolio_id", portfolioID),
			zap.Int("observations", estimate.Observations),
			zap.String("method", estimate.Method))
	}
	return estimate, s.finish(op, start, nil)
}

// StressRequest selects the scenarios of a stress test. With no names and no
// custom scenarios the full library is run. A zero leverage means 1x.
type StressRequest struct {
	Leverage      float64         `json:"leverage" yaml:"leverage"`
	ScenarioNames []string        `json:"scenarios" yaml:"scenarios"`
	Custom        []risk.Scenario `json:"custom" yaml:"custom"`
}

// StressTest applies scenarios to the current positions of a portfolio
func (s *RiskService) StressTest(ctx context.Context, portfolioID string, req StressRequest) (risk.StressTestSummary, error) {
	const op = "StressTest"
	start := time.Now()

	scenarios, err := s.resolveScenarios(req)
	if err != nil {
		return risk.StressTestSummary{}, s.finish(op, start, err)
	}

	snapshot, err := s.snapshot(ctx, op, portfolioID)
	if err != nil {
		return risk.StressTestSummary{}, s.finish(op, start, err)
	}

	leverage := req.Leverage
	if leverage == 0 {
		leverage = 1
	}
	summary, err := s.stress.RunStressTest(snapshot.Positions, leverage, scenarios)
	if err != nil {
		return risk.StressTestSummary{}, s.finish(op, start, err)
	}

	s.logger.Info("stress test completed",
		zap.String("portfolio_id", portfolioID),
		zap.Int("scenarios", len(summary.Scenarios)),
		zap.Float64("resilience_score", summary.ResilienceScore))
	return summary, s.finish(op, start, nil)
}

func (s *RiskService) resolveScenarios(req StressRequest) ([]risk.Scenario, error) {
	if len(req.ScenarioNames) == 0 && len(req.Custom) == 0 {
		return nil, nil
	}

	scenarios, err := s.stress.Library().Resolve(req.ScenarioNames)
	if err != nil {
		return nil, err
	}
	for _, c := range req.Custom {
		opts := append([]risk.ScenarioOption{
			risk.WithDuration(c.Duration),
			risk.WithProbability(c.Probability),
		}, c.MarketShockOptions()...)
		custom, err := risk.CreateCustomScenario(c.Name, c.Description, c.PriceShocks, opts...)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, custom)
	}
	return scenarios, nil
}

// MetricsReport bundles the performance and exposure metrics of a portfolio
type MetricsReport struct {
	Sharpe      float64             `json:"sharpe_ratio"`
	MaxDrawdown float64             `json:"max_drawdown"`
	Drawdown    risk.DrawdownReport `json:"drawdown"`
	Exposure    risk.Exposure       `json:"exposure"`
}

// Metrics computes Sharpe, drawdown and exposure
func (s *RiskService) Metrics(ctx context.Context, portfolioID string, days int) (MetricsReport, error) {
	const op = "Metrics"
	start := time.Now()

	points, err := s.historyPoints(ctx, op, portfolioID, days)
	if err != nil {
		return MetricsReport{}, s.finish(op, start, err)
	}
	snapshot, err := s.snapshot(ctx, op, portfolioID)
	if err != nil {
		return MetricsReport{}, s.finish(op, start, err)
	}
	exposure, err := risk.CalculateExposure(snapshot.Positions, snapshot.Balance)
	if err != nil {
		return MetricsReport{}, s.finish(op, start, err)
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.TotalValue
	}

	report := MetricsReport{
		Sharpe:      risk.SharpeRatio(risk.ReturnsFromHistory(points), s.config.RiskFreeRate),
		MaxDrawdown: risk.MaxDrawdown(values),
		Drawdown:    risk.DrawdownProfile(points),
		Exposure:    exposure,
	}
	return report, s.finish(op, start, nil)
}

// MarketWeight names one index of a beta request
type MarketWeight struct {
	IndexID string  `json:"index_id"`
	Weight  float64 `json:"weight"`
}

// BetaRequest selects the indices and windows of a beta calculation. The
// first market is the primary one; rolling beta is computed against it when
// RollingWindow is positive.
type BetaRequest struct {
	Markets       []MarketWeight `json:"markets"`
	Days          int            `json:"days"`
	RollingWindow int            `json:"rolling_window"`
	RollingStep   int            `json:"rolling_step"`
}

// BetaReport is the result of a beta calculation
type BetaReport struct {
	Primary risk.BetaResult             `json:"primary"`
	Multi   *risk.MultiMarketBetaResult `json:"multi_market,omitempty"`
	Rolling []risk.RollingBetaPoint     `json:"rolling,omitempty"`
}

// Beta regresses portfolio returns on one or more market indices
func (s *RiskService) Beta(ctx context.Context, portfolioID string, req BetaRequest) (BetaReport, error) {
	const op = "Beta"
	start := time.Now()

	if len(req.Markets) == 0 {
		return BetaReport{}, s.finish(op, start,
			risk.NewRiskError(risk.ErrCodeMissingMarketSeries, "at least one market index is required", op))
	}
	if s.deps.Market == nil {
		return BetaReport{}, s.finish(op, start,
			risk.NewDependencyUnavailableError(op, DependencyMarket, fmt.Errorf("no market data provider configured")))
	}

	points, err := s.historyPoints(ctx, op, portfolioID, req.Days)
	if err != nil {
		return BetaReport{}, s.finish(op, start, err)
	}
	portfolio := risk.TimedReturnsFromHistory(points)

	series := make([]risk.MarketSeries, 0, len(req.Markets))
	for _, m := range req.Markets {
		indexPoints, err := call(ctx, s, s.market, op, func(ctx context.Context) ([]risk.ValuePoint, error) {
			return s.deps.Market.GetIndexHistory(ctx, m.IndexID, s.days(req.Days))
		})
		if err != nil {
			return BetaReport{}, s.finish(op, start, wrapNotFound(err, "market index", m.IndexID))
		}
		weight := m.Weight
		if weight == 0 {
			weight = 1
		}
		series = append(series, risk.MarketSeries{
			Name:    m.IndexID,
			Weight:  weight,
			Returns: risk.TimedReturnsFromHistory(indexPoints),
		})
	}

	var report BetaReport
	report.Primary, err = s.beta.CalculateBeta(portfolio, series[0].Returns)
	if err != nil {
		return BetaReport{}, s.finish(op, start, err)
	}

	if len(series) > 1 {
		multi, err := s.beta.CalculateMultiMarketBeta(portfolio, series)
		if err != nil {
			return BetaReport{}, s.finish(op, start, err)
		}
		report.Multi = &multi
	}

	if req.RollingWindow > 0 {
		report.Rolling, err = s.beta.CalculateRollingBeta(portfolio, series[0].Returns, req.RollingWindow, req.RollingStep)
		if err != nil {
			return BetaReport{}, s.finish(op, start, err)
		}
	}
	return report, s.finish(op, start, nil)
}

// CheckOrder evaluates a proposed order against the owner's limits. Limits
// are read on every call.
func (s *RiskService) CheckOrder(ctx context.Context, portfolioID, ownerID string, order risk.Order) (risk.OrderRiskCheckResult, error) {
	const op = "CheckOrder"
	start := time.Now()

	snapshot, err := s.snapshot(ctx, op, portfolioID)
	if err != nil {
		return risk.OrderRiskCheckResult{}, s.finish(op, start, err)
	}
	exposure, err := risk.CalculateExposure(snapshot.Positions, snapshot.Balance)
	if err != nil {
		return risk.OrderRiskCheckResult{}, s.finish(op, start, err)
	}

	limits, err := s.ListLimits(ctx, ownerID)
	if err != nil {
		return risk.OrderRiskCheckResult{}, s.finish(op, start, err)
	}

	var dailyPnL *float64
	if needsDailyPnL(limits) {
		dailyPnL = s.dailyPnL(ctx, op, portfolioID)
	}

	result, err := s.gate.CheckOrder(order, &exposure, limits, dailyPnL)
	if err != nil {
		return risk.OrderRiskCheckResult{}, s.finish(op, start, err)
	}

	if s.recorder != nil {
		types := make([]string, len(result.Violations))
		for i, v := range result.Violations {
			types[i] = string(v.Type)
		}
		s.recorder.RecordGateDecision(result.Allowed, types)
	}
	s.logger.Info("order checked",
		zap.String("portfolio_id", portfolioID),
		zap.String("owner_id", ownerID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Bool("allowed", result.Allowed),
		zap.Int("violations", len(result.Violations)),
		zap.Int("warnings", len(result.Warnings)))
	return result, s.finish(op, start, nil)
}

func needsDailyPnL(limits []risk.RiskLimit) bool {
	for _, l := range limits {
		if l.Enabled && l.Type == risk.LimitMaxDailyLoss {
			return true
		}
	}
	return false
}

// dailyPnL is the change between the last two recorded values. It returns
// nil when history is unavailable so the gate can warn instead of failing.
func (s *RiskService) dailyPnL(ctx context.Context, op, portfolioID string) *float64 {
	points, err := call(ctx, s, s.history, op, func(ctx context.Context) ([]risk.ValuePoint, error) {
		return s.deps.History.GetHistory(ctx, portfolioID, 2)
	})
	if err != nil {
		s.logger.Warn("daily P&L unavailable", zap.String("portfolio_id", portfolioID), zap.Error(err))
		return nil
	}
	if len(points) < 2 {
		return nil
	}

	last, prev := points[len(points)-1].TotalValue, points[len(points)-2].TotalValue
	pnl := last - prev
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return nil
	}
	return &pnl
}

func (s *RiskService) days(days int) int {
	if days <= 0 {
		return s.config.HistoryDays
	}
	return days
}

func (s *RiskService) historyPoints(ctx context.Context, op, portfolioID string, days int) ([]risk.ValuePoint, error) {
	points, err := call(ctx, s, s.history, op, func(ctx context.Context) ([]risk.ValuePoint, error) {
		return s.deps.History.GetHistory(ctx, portfolioID, s.days(days))
	})
	if err != nil {
		return nil, wrapNotFound(err, "portfolio", portfolioID)
	}
	return points, nil
}

func (s *RiskService) loadReturns(ctx context.Context, op, portfolioID string, days int) (risk.ReturnSeries, float64, error) {
	points, err := s.historyPoints(ctx, op, portfolioID, days)
	if err != nil {
		return nil, 0, err
	}
	if len(points) == 0 {
		return nil, 0, risk.NewInsufficientDataError(op, s.config.Tail.MinSamples+1, 0)
	}
	return risk.ReturnsFromHistory(points), points[len(points)-1].TotalValue, nil
}

func (s *RiskService) snapshot(ctx context.Context, op, portfolioID string) (*risk.PortfolioSnapshot, error) {
	snapshot, err := call(ctx, s, s.positions, op, func(ctx context.Context) (*risk.PortfolioSnapshot, error) {
		return s.deps.Positions.GetSnapshot(ctx, portfolioID)
	})
	if err != nil {
		return nil, wrapNotFound(err, "portfolio", portfolioID)
	}
	if snapshot == nil {
		return nil, risk.NewDependencyUnavailableError(op, DependencyPositions, fmt.Errorf("empty snapshot"))
	}
	return snapshot, nil
}

func wrapNotFound(err error, kind, id string) error {
	if isCallerError(err) {
		return fmt.Errorf("%s %q: %w", kind, id, err)
	}
	return err
}

// finish records the outcome of an operation and logs failures
func (s *RiskService) finish(op string, start time.Time, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
		if rerr, ok := risk.AsRiskError(err); ok {
			result = string(rerr.Code)
			if rerr.Category != risk.CategoryDependency {
				s.logRiskError(rerr)
			}
		}
	}
	if s.recorder != nil {
		s.recorder.ObserveCalculation(op, result, time.Since(start))
	}
	return err
}

func (s *RiskService) recordDependencyFailure(dependency string, rerr *risk.RiskError) {
	if s.recorder != nil {
		s.recorder.RecordDependencyFailure(dependency, string(rerr.Code))
	}
}

func (s *RiskService) logRiskError(err *risk.RiskError) {
	LogRiskError(s.logger, err)
}
