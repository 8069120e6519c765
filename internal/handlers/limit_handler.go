package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/risk"
)

// LimitService manages the risk limits of an owner
type LimitService interface {
	CreateLimit(ctx context.Context, limit *risk.RiskLimit) error
	GetLimit(ctx context.Context, ownerID, limitID string) (*risk.RiskLimit, error)
	ListLimits(ctx context.Context, ownerID string) ([]risk.RiskLimit, error)
	UpdateLimit(ctx context.Context, limit *risk.RiskLimit) error
	DeleteLimit(ctx context.Context, ownerID, limitID string) error
}

// LimitHandler handles risk limit HTTP requests
type LimitHandler struct {
	service LimitService
	logger  *zap.Logger
}

// NewLimitHandler creates a new limit handler
func NewLimitHandler(svc LimitService, logger *zap.Logger) *LimitHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LimitHandler{service: svc, logger: logger}
}

// CreateLimitRequest represents a request to create a limit
type CreateLimitRequest struct {
	Type    string  `json:"type" binding:"required"`
	Value   float64 `json:"value"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// UpdateLimitRequest represents a request to replace a limit. Version must be
// the version last read by the caller.
type UpdateLimitRequest struct {
	Type    string  `json:"type" binding:"required"`
	Value   float64 `json:"value"`
	Enabled bool    `json:"enabled"`
	Version int64   `json:"version" binding:"required"`
}

// List returns the limits of an owner
// @Summary List risk limits
// @Tags Limits
// @Produce json
// @Param owner path string true "Owner ID"
// @Success 200 {array} risk.RiskLimit
// @Router /v1/owners/{owner}/limits [get]
func (h *LimitHandler) List(c *gin.Context) {
	limits, err := h.service.ListLimits(c.Request.Context(), c.Param("owner"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, limits)
}

// Create adds a limit. Limits are enabled unless the request says otherwise.
// @Summary Create risk limit
// @Tags Limits
// @Accept json
// @Produce json
// @Param owner path string true "Owner ID"
// @Param request body CreateLimitRequest true "Limit"
// @Success 201 {object} risk.RiskLimit
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/owners/{owner}/limits [post]
func (h *LimitHandler) Create(c *gin.Context) {
	var req CreateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	limit := &risk.RiskLimit{
		OwnerID: c.Param("owner"),
		Type:    risk.LimitType(req.Type),
		Value:   req.Value,
		Enabled: enabled,
	}
	if err := h.service.CreateLimit(c.Request.Context(), limit); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusCreated, limit)
}

// Get returns one limit
// @Summary Get risk limit
// @Tags Limits
// @Produce json
// @Param owner path string true "Owner ID"
// @Param limitId path string true "Limit ID"
// @Success 200 {object} risk.RiskLimit
// @Failure 404 {object} ErrorResponse
// @Router /v1/owners/{owner}/limits/{limitId} [get]
func (h *LimitHandler) Get(c *gin.Context) {
	limit, err := h.service.GetLimit(c.Request.Context(), c.Param("owner"), c.Param("limitId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, limit)
}

// Update replaces a limit under optimistic concurrency
// @Summary Update risk limit
// @Tags Limits
// @Accept json
// @Produce json
// @Param owner path string true "Owner ID"
// @Param limitId path string true "Limit ID"
// @Param request body UpdateLimitRequest true "Limit"
// @Success 200 {object} risk.RiskLimit
// @Failure 409 {object} ErrorResponse
// @Router /v1/owners/{owner}/limits/{limitId} [put]
func (h *LimitHandler) Update(c *gin.Context) {
	var req UpdateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	limit := &risk.RiskLimit{
		ID:      c.Param("limitId"),
		OwnerID: c.Param("owner"),
		Type:    risk.LimitType(req.Type),
		Value:   req.Value,
		Enabled: req.Enabled,
		Version: req.Version,
	}
	if err := h.service.UpdateLimit(c.Request.Context(), limit); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondOK(c, http.StatusOK, limit)
}

// Delete removes a limit
// @Summary Delete risk limit
// @Tags Limits
// @Param owner path string true "Owner ID"
// @Param limitId path string true "Limit ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /v1/owners/{owner}/limits/{limitId} [delete]
func (h *LimitHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteLimit(c.Request.Context(), c.Param("owner"), c.Param("limitId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
