package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/logging"
	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

// Response is the envelope of every API response
type Response struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse describes a failed request
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func respondBadRequest(c *gin.Context, code, message string, details interface{}) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   &ErrorResponse{Code: code, Message: message, Details: details},
	})
}

// respondError maps service errors onto status codes. Calculation
// preconditions that the data cannot meet are 422, caller mistakes 400,
// collaborator outages 503.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(logger, c.Request.Context()).Error("request failed",
			zap.String("code", body.Code), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, Response{Success: false, Error: body})
}

func classify(err error) (int, *ErrorResponse) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, &ErrorResponse{Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, ports.ErrVersionConflict):
		return http.StatusConflict, &ErrorResponse{Code: "VERSION_CONFLICT", Message: "limit was modified concurrently; reload and retry"}
	case errors.Is(err, ports.ErrAlreadyExists):
		return http.StatusConflict, &ErrorResponse{Code: "ALREADY_EXISTS", Message: err.Error()}
	}

	rerr, ok := risk.AsRiskError(err)
	if !ok {
		return http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL_ERROR", Message: "internal server error"}
	}

	body := &ErrorResponse{Code: string(rerr.Code), Message: rerr.Message}
	if d := rerr.Details; len(d.ActualData) > 0 || len(d.ExpectedData) > 0 || len(d.Constraints) > 0 {
		body.Details = d
	}

	switch {
	case rerr.Category == risk.CategoryDependency:
		// the cause of an outage stays in the logs
		body.Details = nil
		return http.StatusServiceUnavailable, body
	case rerr.Category == risk.CategoryConfiguration:
		return http.StatusBadRequest, body
	case rerr.Code == risk.ErrCodeInvalidInput, rerr.Code == risk.ErrCodeInvalidOrder:
		return http.StatusBadRequest, body
	default:
		return http.StatusUnprocessableEntity, body
	}
}
