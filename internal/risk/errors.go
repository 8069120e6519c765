package risk

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a categorized error code for risk operations
type ErrorCode string

const (
	// Data validation errors
	ErrCodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"
	ErrCodeAlignment        ErrorCode = "ALIGNMENT_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidPortfolio ErrorCode = "INVALID_PORTFOLIO"
	ErrCodeInvalidOrder     ErrorCode = "INVALID_ORDER"

	// Calculation errors
	ErrCodeNumericalInstability ErrorCode = "NUMERICAL_INSTABILITY"

	// Configuration errors
	ErrCodeUnsupportedConfidence ErrorCode = "UNSUPPORTED_CONFIDENCE"
	ErrCodeInvalidConfig         ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingMarketSeries   ErrorCode = "MISSING_MARKET_SERIES"
	ErrCodeUnknownScenario       ErrorCode = "UNKNOWN_SCENARIO"

	// External dependency errors
	ErrCodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	ErrCodeDependencyTimeout     ErrorCode = "DEPENDENCY_TIMEOUT"
)

// ErrorSeverity indicates the severity level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// ErrorCategory groups related error codes
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "VALIDATION"
	CategoryCalculation   ErrorCategory = "CALCULATION"
	CategoryConfiguration ErrorCategory = "CONFIGURATION"
	CategoryDependency    ErrorCategory = "DEPENDENCY"
)

// Sentinels for errors.Is. A *RiskError matches the sentinel of its category
// family, so callers can branch without inspecting codes.
var (
	ErrInsufficientData      = errors.New("insufficient data")
	ErrAlignment             = errors.New("series misaligned")
	ErrConfiguration         = errors.New("configuration error")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNumerical             = errors.New("numerical instability")
)

// RiskError is the error type returned by every calculator in this package
type RiskError struct {
	Code        ErrorCode     `json:"code"`
	Message     string        `json:"message"`
	Severity    ErrorSeverity `json:"severity"`
	Category    ErrorCategory `json:"category"`
	Details     ErrorDetails  `json:"details"`
	Timestamp   time.Time     `json:"timestamp"`
	RetryConfig *RetryConfig  `json:"retry_config,omitempty"`
	Cause       error         `json:"-"`
}

// ErrorDetails contains specific information about the error
type ErrorDetails struct {
	Operation    string                 `json:"operation"`
	ExpectedData map[string]interface{} `json:"expected_data,omitempty"`
	ActualData   map[string]interface{} `json:"actual_data,omitempty"`
	Constraints  map[string]interface{} `json:"constraints,omitempty"`
}

// RetryConfig specifies retry behavior for recoverable errors
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts"`
	BackoffDelay    time.Duration `json:"backoff_delay"`
	MaxBackoff      time.Duration `json:"max_backoff"`
	ExponentialBase float64       `json:"exponential_base"`
}

// NewRiskError creates a new RiskError with severity, category and retry
// policy derived from the code
func NewRiskError(code ErrorCode, message string, operation string) *RiskError {
	return &RiskError{
		Code:        code,
		Message:     message,
		Severity:    determineSeverity(code),
		Category:    determineCategory(code),
		Timestamp:   time.Now(),
		Details:     ErrorDetails{Operation: operation},
		RetryConfig: determineRetryConfig(code),
	}
}

// Error implements the error interface
func (re *RiskError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s (operation: %s)", re.Severity, re.Code, re.Message, re.Details.Operation)
	if re.Cause != nil {
		msg += ": " + re.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (re *RiskError) Unwrap() error {
	return re.Cause
}

// Is matches the sentinel for the error's family
func (re *RiskError) Is(target error) bool {
	switch target {
	case ErrInsufficientData:
		return re.Code == ErrCodeInsufficientData
	case ErrAlignment:
		return re.Code == ErrCodeAlignment
	case ErrConfiguration:
		return re.Category == CategoryConfiguration
	case ErrDependencyUnavailable:
		return re.Category == CategoryDependency
	case ErrInvalidInput:
		return re.Code == ErrCodeInvalidInput || re.Code == ErrCodeInvalidPortfolio || re.Code == ErrCodeInvalidOrder
	case ErrNumerical:
		return re.Code == ErrCodeNumericalInstability
	}
	return false
}

// WithDetails adds actual-value information
func (re *RiskError) WithDetails(key string, value interface{}) *RiskError {
	if re.Details.ActualData == nil {
		re.Details.ActualData = make(map[string]interface{})
	}
	re.Details.ActualData[key] = value
	return re
}

// WithExpected adds expected-value information
func (re *RiskError) WithExpected(key string, value interface{}) *RiskError {
	if re.Details.ExpectedData == nil {
		re.Details.ExpectedData = make(map[string]interface{})
	}
	re.Details.ExpectedData[key] = value
	return re
}

// WithConstraint adds constraint violation information
func (re *RiskError) WithConstraint(key string, value interface{}) *RiskError {
	if re.Details.Constraints == nil {
		re.Details.Constraints = make(map[string]interface{})
	}
	re.Details.Constraints[key] = value
	return re
}

// WithCause wraps an underlying error
func (re *RiskError) WithCause(cause error) *RiskError {
	re.Cause = cause
	return re
}

// IsTemporary reports whether the condition may clear on retry
func (re *RiskError) IsTemporary() bool {
	return re.Category == CategoryDependency
}

// ShouldRetry determines if the operation should be retried after attemptCount attempts
func (re *RiskError) ShouldRetry(attemptCount int) bool {
	if !re.IsTemporary() || re.RetryConfig == nil {
		return false
	}
	return attemptCount < re.RetryConfig.MaxAttempts
}

// GetRetryDelay calculates the exponential backoff before the next attempt
func (re *RiskError) GetRetryDelay(attemptCount int) time.Duration {
	if re.RetryConfig == nil {
		return 0
	}

	delay := re.RetryConfig.BackoffDelay
	for i := 0; i < attemptCount; i++ {
		delay = time.Duration(float64(delay) * re.RetryConfig.ExponentialBase)
	}
	if delay > re.RetryConfig.MaxBackoff {
		delay = re.RetryConfig.MaxBackoff
	}
	return delay
}

func determineSeverity(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeNumericalInstability:
		return SeverityHigh
	case ErrCodeDependencyUnavailable, ErrCodeDependencyTimeout, ErrCodeInvalidConfig:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func determineCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInsufficientData, ErrCodeAlignment, ErrCodeInvalidInput,
		ErrCodeInvalidPortfolio, ErrCodeInvalidOrder:
		return CategoryValidation
	case ErrCodeNumericalInstability:
		return CategoryCalculation
	case ErrCodeUnsupportedConfidence, ErrCodeInvalidConfig,
		ErrCodeMissingMarketSeries, ErrCodeUnknownScenario:
		return CategoryConfiguration
	case ErrCodeDependencyUnavailable, ErrCodeDependencyTimeout:
		return CategoryDependency
	default:
		return CategoryValidation
	}
}

func determineRetryConfig(code ErrorCode) *RetryConfig {
	switch code {
	case ErrCodeDependencyTimeout:
		return &RetryConfig{
			MaxAttempts:     3,
			BackoffDelay:    100 * time.Millisecond,
			MaxBackoff:      2 * time.Second,
			ExponentialBase: 2.0,
		}
	case ErrCodeDependencyUnavailable:
		return &RetryConfig{
			MaxAttempts:     3,
			BackoffDelay:    250 * time.Millisecond,
			MaxBackoff:      5 * time.Second,
			ExponentialBase: 1.5,
		}
	default:
		return nil
	}
}

// Convenience constructors for the documented error taxonomy

// NewInsufficientDataError reports fewer observations than an estimator needs
func NewInsufficientDataError(operation string, required, provided int) *RiskError {
	return NewRiskError(ErrCodeInsufficientData,
		fmt.Sprintf("insufficient historical data for %s", operation), operation).
		WithExpected("min_observations", required).
		WithDetails("provided_observations", provided)
}

// NewAlignmentError reports two series that cannot be regressed against each other
func NewAlignmentError(operation, reason string) *RiskError {
	return NewRiskError(ErrCodeAlignment,
		fmt.Sprintf("series are not aligned: %s", reason), operation)
}

// NewUnsupportedConfidenceError reports a confidence level without a calibrated estimator
func NewUnsupportedConfidenceError(operation string, confidence float64) *RiskError {
	return NewRiskError(ErrCodeUnsupportedConfidence,
		fmt.Sprintf("unsupported confidence level %g", confidence), operation).
		WithDetails("confidence_level", confidence).
		WithConstraint("supported", SupportedConfidenceLevels())
}

// NewConfigurationError reports invalid caller-supplied parameters
func NewConfigurationError(operation, message string) *RiskError {
	return NewRiskError(ErrCodeInvalidConfig, message, operation)
}

// NewInvalidInputError reports malformed input data
func NewInvalidInputError(operation, message string) *RiskError {
	return NewRiskError(ErrCodeInvalidInput, message, operation)
}

// NewDependencyUnavailableError wraps a collaborator failure
func NewDependencyUnavailableError(operation, dependency string, cause error) *RiskError {
	code := ErrCodeDependencyUnavailable
	if errors.Is(cause, context.DeadlineExceeded) {
		code = ErrCodeDependencyTimeout
	}
	return NewRiskError(code,
		fmt.Sprintf("%s is unavailable", dependency), operation).
		WithDetails("dependency", dependency).
		WithCause(cause)
}

// AsRiskError extracts a *RiskError from an error chain
func AsRiskError(err error) (*RiskError, bool) {
	var re *RiskError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
