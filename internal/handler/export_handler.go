package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	"github.com/noah-isme/academic-requests-api/internal/service"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
	"github.com/noah-isme/academic-requests-api/pkg/response"
)

type exportService interface {
	Requests(ctx context.Context, query dto.RequestQuery, format models.ExportFormat) (*service.ExportFile, error)
}

// ExportHandler streams request listings as downloadable files.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc exportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Requests godoc
// @Summary Export requests
// @Description Download the filtered request list as CSV or PDF
// @Tags Requests
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf (default csv)"
// @Param state query string false "State"
// @Param type query string false "Request type"
// @Param priority query string false "Priority"
// @Param responsibleId query int false "Responsible user ID"
// @Param requesterId query int false "Requester user ID"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /requests/export [get]
func (h *ExportHandler) Requests(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var query dto.RequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	format := models.ExportFormat(strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", string(models.ExportFormatCSV)))))
	file, err := h.service.Requests(c.Request.Context(), query, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}
