package service

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/risk"
)

// CreateLimit validates and stores a new limit. The store assigns ID and
// version.
func (s *RiskService) CreateLimit(ctx context.Context, limit *risk.RiskLimit) error {
	const op = "CreateLimit"
	if err := validateLimit(op, limit); err != nil {
		return err
	}

	_, err := call(ctx, s, s.limits, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Limits.Create(ctx, limit)
	})
	if err != nil {
		return wrapNotFound(err, "limit", string(limit.Type))
	}

	s.logger.Info("risk limit created",
		zap.String("owner_id", limit.OwnerID),
		zap.String("limit_id", limit.ID),
		zap.String("type", string(limit.Type)),
		zap.Float64("value", limit.Value))
	return nil
}

// GetLimit returns one limit of an owner
func (s *RiskService) GetLimit(ctx context.Context, ownerID, limitID string) (*risk.RiskLimit, error) {
	const op = "GetLimit"
	limit, err := call(ctx, s, s.limits, op, func(ctx context.Context) (*risk.RiskLimit, error) {
		return s.deps.Limits.Get(ctx, ownerID, limitID)
	})
	if err != nil {
		return nil, wrapNotFound(err, "limit", limitID)
	}
	return limit, nil
}

// ListLimits returns every limit of an owner
func (s *RiskService) ListLimits(ctx context.Context, ownerID string) ([]risk.RiskLimit, error) {
	const op = "ListLimits"
	limits, err := call(ctx, s, s.limits, op, func(ctx context.Context) ([]risk.RiskLimit, error) {
		return s.deps.Limits.ListByOwner(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	if limits == nil {
		limits = []risk.RiskLimit{}
	}
	return limits, nil
}

// UpdateLimit applies a change guarded by limit.Version
func (s *RiskService) UpdateLimit(ctx context.Context, limit *risk.RiskLimit) error {
	const op = "UpdateLimit"
	if err := validateLimit(op, limit); err != nil {
		return err
	}

	_, err := call(ctx, s, s.limits, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Limits.Update(ctx, limit)
	})
	if err != nil {
		return wrapNotFound(err, "limit", limit.ID)
	}

	s.logger.Info("risk limit updated",
		zap.String("owner_id", limit.OwnerID),
		zap.String("limit_id", limit.ID),
		zap.Int64("version", limit.Version))
	return nil
}

// DeleteLimit removes a limit
func (s *RiskService) DeleteLimit(ctx context.Context, ownerID, limitID string) error {
	const op = "DeleteLimit"
	_, err := call(ctx, s, s.limits, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Limits.Delete(ctx, ownerID, limitID)
	})
	if err != nil {
		return wrapNotFound(err, "limit", limitID)
	}

	s.logger.Info("risk limit deleted", zap.String("owner_id", ownerID), zap.String("limit_id", limitID))
	return nil
}

func validateLimit(op string, limit *risk.RiskLimit) error {
	if limit == nil {
		return risk.NewInvalidInputError(op, "limit is required")
	}
	if strings.TrimSpace(limit.OwnerID) == "" {
		return risk.NewInvalidInputError(op, "owner id is required")
	}
	if !limit.Type.Valid() {
		return risk.NewInvalidInputError(op, "unknown limit type").
			WithDetails("type", limit.Type)
	}
	if limit.Value <= 0 || math.IsNaN(limit.Value) || math.IsInf(limit.Value, 0) {
		return risk.NewInvalidInputError(op, "limit value must be positive").
			WithDetails("value", limit.Value)
	}
	if (limit.Type == risk.LimitMinMargin || limit.Type == risk.LimitMaxDailyLoss) && limit.Value > 100 {
		return risk.NewInvalidInputError(op, "percentage of balance cannot exceed 100").
			WithDetails("value", limit.Value).
			WithConstraint("max", 100)
	}
	return nil
}
