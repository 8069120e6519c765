package ratelimit

import (
	"context"
	"time"
)

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	// Check checks if a request should be allowed and updates counters
	Check(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error)

	// Reset resets the rate limit for a key
	Reset(ctx context.Context, key string) error

	// GetStatus returns current rate limit status without updating counters
	GetStatus(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error)
}

// Rule is a request budget over a sliding window. A zero Limit disables it.
type Rule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Enabled reports whether the rule restricts anything
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// RateLimitConfig holds rate limiting configuration for the risk API.
// Calculation endpoints are heavier than reads and get their own budget.
type RateLimitConfig struct {
	Global      Rule `mapstructure:"global"`
	PerClient   Rule `mapstructure:"per_client"`
	Calculation Rule `mapstructure:"calculation"`
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Global:      Rule{Limit: 5000, Window: time.Minute},
		PerClient:   Rule{Limit: 300, Window: time.Minute},
		Calculation: Rule{Limit: 60, Window: time.Minute},
	}
}
