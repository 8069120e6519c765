package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/risk"
	"github.com/victoralfred/portfolio-risk/internal/service"
)

// RiskService is the calculation surface served over HTTP
type RiskService interface {
	Scenarios() []risk.Scenario
	ValueAtRisk(ctx context.Context, portfolioID string, days int) (risk.VaRResult, error)
	ConditionalValueAtRisk(ctx context.Context, portfolioID string, days int) (risk.CVaRResult, error)
	TailEstimate(ctx context.Context, portfolioID string, days int, confidence float64) (risk.TailEstimate, error)
	StressTest(ctx context.Context, portfolioID string, req service.StressRequest) (risk.StressTestSummary, error)
	Metrics(ctx context.Context, portfolioID string, days int) (service.MetricsReport, error)
	Beta(ctx context.Context, portfolioID string, req service.BetaRequest) (service.BetaReport, error)
	CheckOrder(ctx context.Context, portfolioID, ownerID string, order risk.Order) (risk.OrderRiskCheckResult, error)
}

// RiskHandler handles portfolio risk HTTP requests
type RiskHandler struct {
	service RiskService
	logger  *zap.Logger
}

// NewRiskHandler creates a new risk handler
func NewRiskHandler(svc RiskService, logger *zap.Logger) *RiskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskHandler{service: svc, logger: logger}
}

// CustomScenarioRequest describes an ad-hoc stress scenario
type CustomScenarioRequest struct {
	Name           string             `json:"name" binding:"required"`
	Description    string             `json:"description"`
	PriceShocks    map[string]float64 `json:"price_shocks" binding:"required"`
	VolumeShock    *float64           `json:"volume_shock"`
	SpreadShock    *float64           `json:"spread_shock"`
	LiquidityShock *float64           `json:"liquidity_shock"`
	Duration       string             `json:"duration"`
	Probability    float64            `json:"probability"`
}

// StressTestRequest represents a request to stress a portfolio
type StressTestRequest struct {
	Leverage  float64                 `json:"leverage"`
	Scenarios []string                `json:"scenarios"`
	Custom    []CustomScenarioRequest `json:"custom"`
}

// BetaCalculationRequest represents a request to compute portfolio beta
type BetaCalculationRequest struct {
	Markets       []service.MarketWeight `json:"markets" binding:"required"`
	Days          int                    `json:"days"`
	RollingWindow int                    `json:"rolling_window"`
	RollingStep   int                    `json:"rolling_step"`
}

// OrderCheckRequest represents a proposed order for the pre-trade gate
type OrderCheckRequest struct {
	OwnerID  string  `json:"owner_id" binding:"required"`
	Symbol   string  `json:"symbol" binding:"required"`
	Side     string  `json:"side" binding:"required"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// ListScenarios returns the predefined stress scenarios
// @Summary List stress scenarios
// @Tags Risk
// @Produce json
// @Success 200 {array} risk.Scenario
// @Router /v1/scenarios [get]
func (h *RiskHandler) ListScenarios(c *gin.Context) {
	respondOK(c, http.StatusOK, h.service.Scenarios())
}

// ValueAtRisk computes historical VaR at 95% and 99%
// @Summary Historical Value at Risk
// @Tags Risk
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param days query int false "History window in days"
// @Success 200 {object} risk.VaRResult
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /v1/portfolios/{id}/var [get]
func (h *RiskHandler) ValueAtRisk(c *gin.Context) {
	days, ok := daysQuery(c)
	if !ok {
		return
	}

	result, err := h.service.ValueAtRisk(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// ConditionalValueAtRisk computes historical CVaR at 95% and 99%
// @Summary Historical Conditional Value at Risk
// @Tags Risk
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param days query int false "History window in days"
// @Success 200 {object} risk.CVaRResult
// @Router /v1/portfolios/{id}/cvar [get]
func (h *RiskHandler) ConditionalValueAtRisk(c *gin.Context) {
	days, ok := daysQuery(c)
	if !ok {
		return
	}

	result, err := h.service.ConditionalValueAtRisk(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// TailEstimate computes VaR and CVaR at one confidence level, escalating to
// simulation on short histories
// @Summary Tail risk estimate
// @Tags Risk
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param confidence query number false "Confidence level, 95 or 99"
// @Param days query int false "History window in days"
// @Success 200 {object} risk.TailEstimate
// @Router /v1/portfolios/{id}/tail [get]
func (h *RiskHandler) TailEstimate(c *gin.Context) {
	days, ok := daysQuery(c)
	if !ok {
		return
	}

	confidence := 95.0
	if raw := c.Query("confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondBadRequest(c, "INVALID_QUERY", "confidence must be a number", gin.H{"confidence": raw})
			return
		}
		confidence = parsed
	}

	result, err := h.service.TailEstimate(c.Request.Context(), c.Param("id"), days, confidence)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// Metrics computes Sharpe ratio, drawdown and exposure
// @Summary Portfolio metrics
// @Tags Risk
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param days query int false "History window in days"
// @Success 200 {object} service.MetricsReport
// @Router /v1/portfolios/{id}/metrics [get]
func (h *RiskHandler) Metrics(c *gin.Context) {
	days, ok := daysQuery(c)
	if !ok {
		return
	}

	result, err := h.service.Metrics(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// StressTest applies stress scenarios to the current positions
// @Summary Stress test
// @Tags Risk
// @Accept json
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param request body StressTestRequest false "Scenarios and leverage"
// @Success 200 {object} risk.StressTestSummary
// @Failure 400 {object} ErrorResponse
// @Router /v1/portfolios/{id}/stress [post]
func (h *RiskHandler) StressTest(c *gin.Context) {
	var req StressTestRequest
	// an empty body runs the whole library at 1x
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "INVALID_REQUEST", err.Error(), nil)
			return
		}
	}

	stressReq := service.StressRequest{Leverage: req.Leverage, ScenarioNames: req.Scenarios}
	for _, custom := range req.Custom {
		var duration time.Duration
		if custom.Duration != "" {
			d, err := time.ParseDuration(custom.Duration)
			if err != nil {
				respondBadRequest(c, "INVALID_REQUEST", "invalid scenario duration",
					gin.H{"scenario": custom.Name, "duration": custom.Duration})
				return
			}
			duration = d
		}
		stressReq.Custom = append(stressReq.Custom, risk.Scenario{
			Name:           custom.Name,
			Description:    custom.Description,
			PriceShocks:    custom.PriceShocks,
			VolumeShock:    custom.VolumeShock,
			SpreadShock:    custom.SpreadShock,
			LiquidityShock: custom.LiquidityShock,
			Duration:       duration,
			Probability:    custom.Probability,
		})
	}

	result, err := h.service.StressTest(c.Request.Context(), c.Param("id"), stressReq)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// Beta regresses portfolio returns on market indices
// @Summary Portfolio beta
// @Tags Risk
// @Accept json
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param request body BetaCalculationRequest true "Markets and windows"
// @Success 200 {object} service.BetaReport
// @Router /v1/portfolios/{id}/beta [post]
func (h *RiskHandler) Beta(c *gin.Context) {
	var req BetaCalculationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	result, err := h.service.Beta(c.Request.Context(), c.Param("id"), service.BetaRequest{
		Markets:       req.Markets,
		Days:          req.Days,
		RollingWindow: req.RollingWindow,
		RollingStep:   req.RollingStep,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// CheckOrder runs a proposed order through the pre-trade gate. A rejected
// order is still a 200; the verdict is in the body.
// @Summary Pre-trade order check
// @Tags Risk
// @Accept json
// @Produce json
// @Param id path string true "Portfolio ID"
// @Param request body OrderCheckRequest true "Proposed order"
// @Success 200 {object} risk.OrderRiskCheckResult
// @Failure 400 {object} ErrorResponse
// @Router /v1/portfolios/{id}/orders/check [post]
func (h *RiskHandler) CheckOrder(c *gin.Context) {
	var req OrderCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	order := risk.Order{
		Symbol:   req.Symbol,
		Side:     risk.OrderSide(req.Side),
		Quantity: req.Quantity,
		Price:    req.Price,
	}
	result, err := h.service.CheckOrder(c.Request.Context(), c.Param("id"), req.OwnerID, order)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// daysQuery parses the optional days parameter. Zero selects the configured
// default window.
func daysQuery(c *gin.Context) (int, bool) {
	raw := c.Query("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		respondBadRequest(c, "INVALID_QUERY", "days must be a non-negative integer", gin.H{"days": raw})
		return 0, false
	}
	return days, true
}
