package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
	"github.com/victoralfred/portfolio-risk/internal/service"
)

type stubService struct {
	err error

	days       int
	confidence float64
	stress     service.StressRequest
	beta       service.BetaRequest
	ownerID    string
	order      risk.Order
	created    *risk.RiskLimit
	updated    *risk.RiskLimit
	deleted    string
}

func (s *stubService) Scenarios() []risk.Scenario {
	return risk.GetHistoricalScenarios()
}

func (s *stubService) ValueAtRisk(ctx context.Context, portfolioID string, days int) (risk.VaRResult, error) {
	s.days = days
	if s.err != nil {
		return risk.VaRResult{}, s.err
	}
	return risk.VaRResult{Var95: 500, Var99: 900, PortfolioValue: 10000}, nil
}

func (s *stubService) ConditionalValueAtRisk(ctx context.Context, portfolioID string, days int) (risk.CVaRResult, error) {
	s.days = days
	return risk.CVaRResult{CVaR95: 700, CVaR99: 1100}, s.err
}

func (s *stubService) TailEstimate(ctx context.Context, portfolioID string, days int, confidence float64) (risk.TailEstimate, error) {
	s.days, s.confidence = days, confidence
	return risk.TailEstimate{Method: "historical", Confidence: confidence}, s.err
}

func (s *stubService) StressTest(ctx context.Context, portfolioID string, req service.StressRequest) (risk.StressTestSummary, error) {
	s.stress = req
	return risk.StressTestSummary{Leverage: req.Leverage}, s.err
}

func (s *stubService) Metrics(ctx context.Context, portfolioID string, days int) (service.MetricsReport, error) {
	s.days = days
	return service.MetricsReport{Sharpe: 1.2}, s.err
}

func (s *stubService) Beta(ctx context.Context, portfolioID string, req service.BetaRequest) (service.BetaReport, error) {
	s.beta = req
	return service.BetaReport{}, s.err
}

func (s *stubService) CheckOrder(ctx context.Context, portfolioID, ownerID string, order risk.Order) (risk.OrderRiskCheckResult, error) {
	s.ownerID, s.order = ownerID, order
	if s.err != nil {
		return risk.OrderRiskCheckResult{}, s.err
	}
	return risk.OrderRiskCheckResult{
		Allowed: false,
		Violations: []risk.LimitViolation{
			{Type: risk.LimitMaxLeverage, Limit: 2, Current: 1.5, Projected: 2.5},
		},
		Warnings: []string{},
	}, nil
}

func (s *stubService) CreateLimit(ctx context.Context, limit *risk.RiskLimit) error {
	if s.err != nil {
		return s.err
	}
	limit.ID = "lim-1"
	limit.Version = 1
	s.created = limit
	return nil
}

func (s *stubService) GetLimit(ctx context.Context, ownerID, limitID string) (*risk.RiskLimit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &risk.RiskLimit{ID: limitID, OwnerID: ownerID, Type: risk.LimitMaxLeverage, Value: 3, Enabled: true}, nil
}

func (s *stubService) ListLimits(ctx context.Context, ownerID string) ([]risk.RiskLimit, error) {
	return []risk.RiskLimit{}, s.err
}

func (s *stubService) UpdateLimit(ctx context.Context, limit *risk.RiskLimit) error {
	s.updated = limit
	return s.err
}

func (s *stubService) DeleteLimit(ctx context.Context, ownerID, limitID string) error {
	s.deleted = limitID
	return s.err
}

func setupRouter(svc *stubService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	riskHandler := NewRiskHandler(svc, zap.NewNop())
	limitHandler := NewLimitHandler(svc, zap.NewNop())

	router.GET("/v1/scenarios", riskHandler.ListScenarios)
	p := router.Group("/v1/portfolios/:id")
	p.GET("/var", riskHandler.ValueAtRisk)
	p.GET("/cvar", riskHandler.ConditionalValueAtRisk)
	p.GET("/tail", riskHandler.TailEstimate)
	p.GET("/metrics", riskHandler.Metrics)
	p.POST("/stress", riskHandler.StressTest)
	p.POST("/beta", riskHandler.Beta)
	p.POST("/orders/check", riskHandler.CheckOrder)

	l := router.Group("/v1/owners/:owner/limits")
	l.GET("", limitHandler.List)
	l.POST("", limitHandler.Create)
	l.GET("/:limitId", limitHandler.Get)
	l.PUT("/:limitId", limitHandler.Update)
	l.DELETE("/:limitId", limitHandler.Delete)
	return router
}

func do(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRiskHandler_ValueAtRisk(t *testing.T) {
	svc := &stubService{}
	router := setupRouter(svc)

	rec := do(router, http.MethodGet, "/v1/portfolios/pf-1/var?days=90", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 500.0, data["var95"])
	assert.Equal(t, 90, svc.days)
}

func TestRiskHandler_InvalidDays(t *testing.T) {
	router := setupRouter(&stubService{})

	for _, q := range []string{"abc", "-1"} {
		rec := do(router, http.MethodGet, "/v1/portfolios/pf-1/cvar?days="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "INVALID_QUERY", decode(t, rec).Error.Code)
	}
}

func TestRiskHandler_TailEstimate(t *testing.T) {
	svc := &stubService{}
	router := setupRouter(svc)

	rec := do(router, http.MethodGet, "/v1/portfolios/pf-1/tail", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 95.0, svc.confidence)

	rec = do(router, http.MethodGet, "/v1/portfolios/pf-1/tail?confidence=99", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 99.0, svc.confidence)

	rec = do(router, http.MethodGet, "/v1/portfolios/pf-1/tail?confidence=high", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "insufficient data",
			err:    risk.NewInsufficientDataError("ValueAtRisk", 2, 1),
			status: http.StatusUnprocessableEntity,
			code:   "INSUFFICIENT_DATA",
		},
		{
			name:   "unsupported confidence",
			err:    risk.NewUnsupportedConfidenceError("TailEstimate", 90),
			status: http.StatusBadRequest,
			code:   "UNSUPPORTED_CONFIDENCE",
		},
		{
			name:   "invalid input",
			err:    risk.NewInvalidInputError("ValueAtRisk", "portfolio id is required"),
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "dependency outage",
			err:    risk.NewDependencyUnavailableError("ValueAtRisk", "portfolio_history", errors.New("connection refused")),
			status: http.StatusServiceUnavailable,
			code:   "DEPENDENCY_UNAVAILABLE",
		},
		{
			name:   "unknown portfolio",
			err:    fmt.Errorf("portfolio pf-1: %w", ports.ErrNotFound),
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&stubService{err: tt.err})

			rec := do(router, http.MethodGet, "/v1/portfolios/pf-1/var", nil)

			assert.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestRiskHandler_DependencyErrorHidesCause(t *testing.T) {
	err := risk.NewDependencyUnavailableError("ValueAtRisk", "portfolio_history", errors.New("password authentication failed"))
	router := setupRouter(&stubService{err: err})

	rec := do(router, http.MethodGet, "/v1/portfolios/pf-1/var", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRiskHandler_StressTest(t *testing.T) {
	t.Run("empty body runs the library", func(t *testing.T) {
		svc := &stubService{}
		router := setupRouter(svc)

		rec := do(router, http.MethodPost, "/v1/portfolios/pf-1/stress", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, svc.stress.ScenarioNames)
		assert.Empty(t, svc.stress.Custom)
	})

	t.Run("custom scenario", func(t *testing.T) {
		svc := &stubService{}
		router := setupRouter(svc)

		rec := do(router, http.MethodPost, "/v1/portfolios/pf-1/stress", gin.H{
			"leverage":  2,
			"scenarios": []string{"covid_crash_2020"},
			"custom": []gin.H{{
				"name":         "BTC halving",
				"price_shocks": gin.H{"BTC": -0.4},
				"duration":     "72h",
				"probability":  0.1,
			}},
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2.0, svc.stress.Leverage)
		assert.Equal(t, []string{"covid_crash_2020"}, svc.stress.ScenarioNames)
		require.Len(t, svc.stress.Custom, 1)
		assert.Equal(t, 72*time.Hour, svc.stress.Custom[0].Duration)
		assert.Equal(t, -0.4, svc.stress.Custom[0].PriceShocks["BTC"])
		assert.Nil(t, svc.stress.Custom[0].VolumeShock)
		assert.Nil(t, svc.stress.Custom[0].SpreadShock)
		assert.Nil(t, svc.stress.Custom[0].LiquidityShock)
	})

	t.Run("custom scenario with market shocks", func(t *testing.T) {
		svc := &stubService{}
		router := setupRouter(svc)

		rec := do(router, http.MethodPost, "/v1/portfolios/pf-1/stress", gin.H{
			"custom": []gin.H{{
				"name":            "thin book",
				"price_shocks":    gin.H{"BTC": -10},
				"volume_shock":    -50,
				"spread_shock":    200,
				"liquidity_shock": -80,
			}},
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, svc.stress.Custom, 1)
		custom := svc.stress.Custom[0]
		require.NotNil(t, custom.VolumeShock)
		require.NotNil(t, custom.SpreadShock)
		require.NotNil(t, custom.LiquidityShock)
		assert.Equal(t, -50.0, *custom.VolumeShock)
		assert.Equal(t, 200.0, *custom.SpreadShock)
		assert.Equal(t, -80.0, *custom.LiquidityShock)
	})

	t.Run("bad duration", func(t *testing.T) {
		router := setupRouter(&stubService{})

		rec := do(router, http.MethodPost, "/v1/portfolios/pf-1/stress", gin.H{
			"custom": []gin.H{{"name": "x", "price_shocks": gin.H{"BTC": -0.1}, "duration": "soon"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRiskHandler_Beta(t *testing.T) {
	svc := &stubService{}
	router := setupRouter(svc)

	rec := do(router, http.MethodPost, "/v1/portfolios/pf-1/beta", gin.H{
		"markets":        []gin.H{{"index_id": "BTCIX", "weight": 1}},
		"rolling_window": 20,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.beta.Markets, 1)
	assert.Equal(t, "BTCIX", svc.beta.Markets[0].IndexID)
	assert.Equal(t, 20, svc.beta.RollingWindow)

	rec = do(router, http.MethodPost, "/v1/portfolios/pf-1/beta", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskHandler_CheckOrder(t *testing.T) {
	svc := &stubService{}
	router := setupRouter(svc)

	rec := do(router, http.MethodPost, "/v1/portfolios/pf-1/orders/check", gin.H{
		"owner_id": "owner-1",
		"symbol":   "BTC",
		"side":     "BUY",
		"quantity": 0.1,
		"price":    50000,
	})

	assert.Equal(t, http.StatusOK, rec.Code, "a rejection is not an HTTP error")
	resp := decode(t, rec)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["allowed"])
	assert.Len(t, data["violations"], 1)
	assert.Equal(t, "owner-1", svc.ownerID)
	assert.Equal(t, risk.SideBuy, svc.order.Side)

	rec = do(router, http.MethodPost, "/v1/portfolios/pf-1/orders/check", gin.H{"symbol": "BTC"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskHandler_ListScenarios(t *testing.T) {
	router := setupRouter(&stubService{})

	rec := do(router, http.MethodGet, "/v1/scenarios", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.NotEmpty(t, resp.Data)
}

func TestLimitHandler(t *testing.T) {
	t.Run("create defaults to enabled", func(t *testing.T) {
		svc := &stubService{}
		router := setupRouter(svc)

		rec := do(router, http.MethodPost, "/v1/owners/owner-1/limits", gin.H{"type": "MAX_LEVERAGE", "value": 3})

		assert.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, svc.created)
		assert.True(t, svc.created.Enabled)
		assert.Equal(t, "owner-1", svc.created.OwnerID)
		data := decode(t, rec).Data.(map[string]interface{})
		assert.Equal(t, "lim-1", data["id"])
	})

	t.Run("create duplicate", func(t *testing.T) {
		router := setupRouter(&stubService{err: fmt.Errorf("limit MAX_LEVERAGE: %w", ports.ErrAlreadyExists)})

		rec := do(router, http.MethodPost, "/v1/owners/owner-1/limits", gin.H{"type": "MAX_LEVERAGE", "value": 3})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_EXISTS", decode(t, rec).Error.Code)
	})

	t.Run("update requires version", func(t *testing.T) {
		router := setupRouter(&stubService{})

		rec := do(router, http.MethodPut, "/v1/owners/owner-1/limits/lim-1", gin.H{"type": "MAX_LEVERAGE", "value": 3})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update conflict", func(t *testing.T) {
		svc := &stubService{err: ports.ErrVersionConflict}
		router := setupRouter(svc)

		rec := do(router, http.MethodPut, "/v1/owners/owner-1/limits/lim-1",
			gin.H{"type": "MAX_LEVERAGE", "value": 4, "enabled": true, "version": 1})

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "VERSION_CONFLICT", decode(t, rec).Error.Code)
		assert.Equal(t, "lim-1", svc.updated.ID)
		assert.Equal(t, int64(1), svc.updated.Version)
	})

	t.Run("get and delete", func(t *testing.T) {
		svc := &stubService{}
		router := setupRouter(svc)

		rec := do(router, http.MethodGet, "/v1/owners/owner-1/limits/lim-9", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = do(router, http.MethodDelete, "/v1/owners/owner-1/limits/lim-9", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "lim-9", svc.deleted)
	})

	t.Run("list is never null", func(t *testing.T) {
		router := setupRouter(&stubService{})

		rec := do(router, http.MethodGet, "/v1/owners/owner-1/limits", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"data":[]`)
	})
}
