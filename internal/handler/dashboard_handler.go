package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/middleware"
	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
	"github.com/noah-isme/academic-requests-api/pkg/response"
)

type dashboardService interface {
	Summary(ctx context.Context, query dto.RequestQuery) (*models.RequestSummary, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Summary godoc
// @Summary Request dashboard
// @Description Counts by state and priority, unassigned total and most recent requests
// @Tags Dashboard
// @Produce json
// @Param state query string false "State"
// @Param type query string false "Request type"
// @Param priority query string false "Priority"
// @Param responsibleId query int false "Responsible user ID"
// @Param requesterId query int false "Requester user ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var query dto.RequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Summary(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}
