package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/domain/ratelimit"
)

// ClientIDHeader identifies API clients for per-client budgets. Requests
// without it are keyed by IP.
const ClientIDHeader = "X-Client-ID"

// RedisRateLimit applies the global and per-client budgets. If the limiter
// itself fails the request is let through and the failure logged, so a Redis
// outage never takes the risk API down with it.
func RedisRateLimit(limiter ratelimit.RateLimiter, config *ratelimit.RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if config.Global.Enabled() {
			globalResult, err := limiter.Check(ctx, "global", config.Global.Limit, config.Global.Window)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.Error(err))
				c.Next()
				return
			}
			if !globalResult.Allowed {
				setRateLimitHeaders(c, globalResult)
				abortRateLimited(c, "GLOBAL_RATE_LIMIT_EXCEEDED", "Global rate limit exceeded", globalResult)
				return
			}
		}

		if config.PerClient.Enabled() {
			key := "client:" + clientKey(c)
			result, err := limiter.Check(ctx, key, config.PerClient.Limit, config.PerClient.Window)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				c.Next()
				return
			}

			setRateLimitHeaders(c, result)
			c.Set("rate_limit", result.Limit)
			c.Set("rate_remaining", result.Remaining)
			c.Set("rate_reset", result.ResetTime.Unix())

			if !result.Allowed {
				abortRateLimited(c, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", result)
				return
			}
		}

		c.Next()
	}
}

// CalculationRateLimit applies the per-client budget of one calculation
// route. It is mounted on the heavier endpoints only.
func CalculationRateLimit(limiter ratelimit.RateLimiter, rule ratelimit.Rule, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rule.Enabled() {
			c.Next()
			return
		}

		endpoint := c.FullPath()
		key := fmt.Sprintf("endpoint:%s:%s", endpoint, clientKey(c))
		result, err := limiter.Check(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)
		if !result.Allowed {
			abortRateLimited(c, "ENDPOINT_RATE_LIMIT_EXCEEDED",
				fmt.Sprintf("Rate limit exceeded for endpoint %s", endpoint), result)
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	if id := c.GetHeader(ClientIDHeader); id != "" {
		return "id:" + id
	}
	return "ip:" + c.ClientIP()
}

func abortRateLimited(c *gin.Context, code, message string, result *ratelimit.RateLimitResult) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": gin.H{
				"limit":       result.Limit,
				"remaining":   result.Remaining,
				"reset_at":    result.ResetTime.Unix(),
				"retry_after": int(result.RetryAfter.Seconds()),
			},
		},
	})
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

	if result.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}
