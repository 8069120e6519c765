package service

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

// Dependency names used in errors, logs and metrics
const (
	DependencyHistory   = "portfolio_history"
	DependencyPositions = "positions"
	DependencyMarket    = "market_data"
	DependencyLimits    = "risk_limits"
)

// BreakerConfig tunes the circuit breaker in front of each collaborator
type BreakerConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	MinRequests         uint32        `mapstructure:"min_requests"`
	FailureRatio        float64       `mapstructure:"failure_ratio"`
}

// DefaultBreakerConfig trips after 3 consecutive failures or a failure ratio
// above 5% over at least 20 requests
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
	}
}

// StateObserver receives breaker transitions
type StateObserver interface {
	SetBreakerState(dependency string, state int)
}

type dependency struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

func newDependency(name string, cfg BreakerConfig, logger *zap.Logger, observer StateObserver) *dependency {
	st := gobreaker.Settings{Name: name}
	st.Interval = cfg.Interval
	st.Timeout = cfg.Timeout
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if counts.Requests < cfg.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.FailureRatio
	}
	// Lookups of missing or stale records say nothing about the health of
	// the collaborator.
	st.IsSuccessful = func(err error) bool {
		return err == nil || isCallerError(err)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state changed",
			zap.String("dependency", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		if observer != nil {
			observer.SetBreakerState(name, int(to))
		}
	}

	return &dependency{name: name, breaker: gobreaker.NewCircuitBreaker(st)}
}

func isCallerError(err error) bool {
	return errors.Is(err, ports.ErrNotFound) ||
		errors.Is(err, ports.ErrVersionConflict) ||
		errors.Is(err, ports.ErrAlreadyExists)
}

// call runs fn against dep with a per-attempt timeout, retrying temporary
// failures with the backoff policy carried by the resulting RiskError.
// Caller errors from the ports are returned unchanged and never retried.
func call[T any](ctx context.Context, s *RiskService, dep *dependency, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		value, err := execute(ctx, s.config.FetchTimeout, dep, fn)
		if err == nil {
			return value, nil
		}
		if isCallerError(err) {
			return zero, err
		}

		rerr := risk.NewDependencyUnavailableError(op, dep.name, err).
			WithDetails("attempt", attempt)
		s.recordDependencyFailure(dep.name, rerr)

		breakerOpen := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
		if breakerOpen || ctx.Err() != nil || !rerr.ShouldRetry(attempt) {
			s.logRiskError(rerr)
			return zero, rerr
		}

		delay := rerr.GetRetryDelay(attempt - 1)
		s.logger.Debug("retrying dependency call",
			zap.String("dependency", dep.name),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := s.sleep(ctx, delay); err != nil {
			s.logRiskError(rerr)
			return zero, rerr
		}
	}
}

func execute[T any](ctx context.Context, timeout time.Duration, dep *dependency, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	out, err := dep.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
