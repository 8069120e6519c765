package service

import (
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/victoralfred/portfolio-risk/internal/risk"
)

// RiskErrorFields flattens a RiskError into structured log fields
func RiskErrorFields(err *risk.RiskError) []zap.Field {
	fields := []zap.Field{
		zap.String("error_code", string(err.Code)),
		zap.String("error_severity", string(err.Severity)),
		zap.String("error_category", string(err.Category)),
		zap.String("operation", err.Details.Operation),
		zap.Time("error_timestamp", err.Timestamp),
		zap.Bool("retryable", err.IsTemporary()),
	}

	if len(err.Details.ActualData) > 0 {
		fields = append(fields, zap.Any("actual_data", err.Details.ActualData))
	}
	if len(err.Details.ExpectedData) > 0 {
		fields = append(fields, zap.Any("expected_data", err.Details.ExpectedData))
	}
	if len(err.Details.Constraints) > 0 {
		fields = append(fields, zap.Any("constraints", err.Details.Constraints))
	}
	if err.RetryConfig != nil {
		fields = append(fields,
			zap.Int("retry_max_attempts", err.RetryConfig.MaxAttempts),
			zap.Duration("retry_backoff", err.RetryConfig.BackoffDelay))
	}
	if err.Cause != nil {
		fields = append(fields, zap.NamedError("cause", err.Cause))
	}
	return fields
}

// LogRiskError logs err at a level derived from its severity. Errors that
// are not RiskErrors are logged at ERROR.
func LogRiskError(logger *zap.Logger, err error) {
	var rerr *risk.RiskError
	if !errors.As(err, &rerr) {
		logger.Error("risk operation failed", zap.Error(err))
		return
	}

	if ce := logger.Check(severityLevel(rerr.Severity), rerr.Message); ce != nil {
		ce.Write(RiskErrorFields(rerr)...)
	}
}

func severityLevel(s risk.ErrorSeverity) zapcore.Level {
	switch s {
	case risk.SeverityCritical, risk.SeverityHigh:
		return zapcore.ErrorLevel
	case risk.SeverityMedium:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
