package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/config"
	"github.com/victoralfred/portfolio-risk/internal/domain/ratelimit"
	"github.com/victoralfred/portfolio-risk/internal/handlers"
	"github.com/victoralfred/portfolio-risk/internal/metrics"
	"github.com/victoralfred/portfolio-risk/internal/risk"
	"github.com/victoralfred/portfolio-risk/internal/service"
)

type stubRisk struct{}

func (stubRisk) Scenarios() []risk.Scenario { return risk.GetHistoricalScenarios() }

func (stubRisk) ValueAtRisk(ctx context.Context, id string, days int) (risk.VaRResult, error) {
	return risk.VaRResult{Var95: 100, Var99: 200}, nil
}

func (stubRisk) ConditionalValueAtRisk(ctx context.Context, id string, days int) (risk.CVaRResult, error) {
	return risk.CVaRResult{}, nil
}

func (stubRisk) TailEstimate(ctx context.Context, id string, days int, confidence float64) (risk.TailEstimate, error) {
	return risk.TailEstimate{Confidence: confidence}, nil
}

func (stubRisk) StressTest(ctx context.Context, id string, req service.StressRequest) (risk.StressTestSummary, error) {
	return risk.StressTestSummary{}, nil
}

func (stubRisk) Metrics(ctx context.Context, id string, days int) (service.MetricsReport, error) {
	return service.MetricsReport{}, nil
}

func (stubRisk) Beta(ctx context.Context, id string, req service.BetaRequest) (service.BetaReport, error) {
	return service.BetaReport{}, nil
}

func (stubRisk) CheckOrder(ctx context.Context, id, owner string, order risk.Order) (risk.OrderRiskCheckResult, error) {
	return risk.OrderRiskCheckResult{Allowed: true, Violations: []risk.LimitViolation{}, Warnings: []string{}}, nil
}

func (stubRisk) CreateLimit(ctx context.Context, limit *risk.RiskLimit) error { return nil }

func (stubRisk) GetLimit(ctx context.Context, owner, id string) (*risk.RiskLimit, error) {
	return &risk.RiskLimit{ID: id, OwnerID: owner}, nil
}

func (stubRisk) ListLimits(ctx context.Context, owner string) ([]risk.RiskLimit, error) {
	return []risk.RiskLimit{}, nil
}

func (stubRisk) UpdateLimit(ctx context.Context, limit *risk.RiskLimit) error { return nil }
func (stubRisk) DeleteLimit(ctx context.Context, owner, id string) error { return nil }

// denyingLimiter rejects every key with the given prefix
type denyingLimiter struct {
	prefix string
}

func (d denyingLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.RateLimitResult, error) {
	allowed := !strings.HasPrefix(key, d.prefix)
	remaining := limit - 1
	if !allowed {
		remaining = 0
	}
	return &ratelimit.RateLimitResult{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetTime:  time.Now().Add(window),
		RetryAfter: window,
	}, nil
}

func (d denyingLimiter) Reset(ctx context.Context, key string) error { return nil }

func (d denyingLimiter) GetStatus(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.RateLimitResult, error) {
	return d.Check(ctx, key, limit, window)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:        8080,
		Environment: "test",
		Version:     "1.0.0",
		StartTime:   time.Now(),
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "X-Request-ID"},
			MaxAge:         time.Hour,
		},
		RateLimit: *ratelimit.DefaultConfig(),
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func testServices() *Services {
	return &Services{
		RiskHandler:  handlers.NewRiskHandler(stubRisk{}, zap.NewNop()),
		LimitHandler: handlers.NewLimitHandler(stubRisk{}, zap.NewNop()),
		DocsHandler:  handlers.NewDocsHandler("test"),
	}
}

func setupTestServer(t *testing.T, svcs *Services) *HTTPServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	server := New(testConfig(), svcs, zap.NewNop())
	server.Setup()
	return server
}

func serve(server *HTTPServer, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	server.Router().ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	cfg := testConfig()
	logger := zap.NewNop()
	services := testServices()

	server := New(cfg, services, logger)

	assert.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, services, server.services)
	assert.Equal(t, logger, server.logger)
}

func TestServer_HealthCheck(t *testing.T) {
	server := setupTestServer(t, testServices())

	w := serve(server, http.MethodGet, "/v1/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "1.0.0", response["version"])
	assert.NotNil(t, response["timestamp"])
	assert.NotNil(t, response["uptime"])
}

func TestServer_Readiness(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		svcs := testServices()
		svcs.HealthChecks = map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
		}
		server := setupTestServer(t, svcs)

		w := serve(server, http.MethodGet, "/v1/ready")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
	})

	t.Run("dependency down", func(t *testing.T) {
		svcs := testServices()
		svcs.HealthChecks = map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("dial tcp: connection refused") },
		}
		server := setupTestServer(t, svcs)

		w := serve(server, http.MethodGet, "/v1/ready")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"redis":"unavailable"`)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestServer_Routes(t *testing.T) {
	server := setupTestServer(t, testServices())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/scenarios"},
		{http.MethodGet, "/v1/portfolios/pf-1/var"},
		{http.MethodGet, "/v1/portfolios/pf-1/cvar"},
		{http.MethodGet, "/v1/portfolios/pf-1/tail"},
		{http.MethodGet, "/v1/portfolios/pf-1/metrics"},
		{http.MethodPost, "/v1/portfolios/pf-1/stress"},
		{http.MethodGet, "/v1/owners/owner-1/limits"},
		{http.MethodGet, "/v1/owners/owner-1/limits/lim-1"},
		{http.MethodDelete, "/v1/owners/owner-1/limits/lim-1"},
		{http.MethodGet, "/docs"},
		{http.MethodGet, "/docs/openapi.json"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(server, tt.method, tt.path)
			assert.Less(t, w.Code, 300, w.Body.String())
		})
	}
}

func TestServer_RequestIDMiddleware(t *testing.T) {
	server := setupTestServer(t, testServices())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Request-ID", "test-request-123")
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, "test-request-123", w.Header().Get("X-Request-ID"))
}

func TestServer_CORSHeaders(t *testing.T) {
	server := setupTestServer(t, testServices())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Methods"))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Headers"))
}

func TestServer_RateLimits(t *testing.T) {
	t.Run("calculation budget exhausted", func(t *testing.T) {
		svcs := testServices()
		svcs.RateLimiter = denyingLimiter{prefix: "endpoint:"}
		server := setupTestServer(t, svcs)

		assert.Equal(t, http.StatusTooManyRequests, serve(server, http.MethodGet, "/v1/portfolios/pf-1/tail").Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(server, http.MethodPost, "/v1/portfolios/pf-1/stress").Code)

		w := serve(server, http.MethodGet, "/v1/portfolios/pf-1/var")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("client budget exhausted", func(t *testing.T) {
		svcs := testServices()
		svcs.RateLimiter = denyingLimiter{prefix: "client:"}
		server := setupTestServer(t, svcs)

		assert.Equal(t, http.StatusTooManyRequests, serve(server, http.MethodGet, "/v1/portfolios/pf-1/var").Code)
		assert.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/v1/health").Code, "probes are not limited")
	})
}

func TestServer_MetricsEndpoint(t *testing.T) {
	svcs := testServices()
	svcs.Metrics = metrics.NewRegistry()
	server := setupTestServer(t, svcs)

	serve(server, http.MethodGet, "/v1/portfolios/pf-1/var")
	w := serve(server, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(),
		`risk_http_requests_total{method="GET",route="/v1/portfolios/:id/var",status="200"} 1`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	svcs := testServices()
	svcs.Metrics = metrics.NewRegistry()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	server := New(cfg, svcs, zap.NewNop())
	server.Setup()

	assert.Equal(t, http.StatusNotFound, serve(server, http.MethodGet, "/metrics").Code)
}

func TestServer_GracefulShutdown(t *testing.T) {
	server := setupTestServer(t, testServices())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/health", ln.Addr().String()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
