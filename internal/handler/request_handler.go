package handler

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	"github.com/noah-isme/academic-requests-api/internal/service"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
	"github.com/noah-isme/academic-requests-api/pkg/response"
)

type requestService interface {
	Submit(ctx context.Context, in dto.SubmitRequest) (*models.Request, error)
	Classify(ctx context.Context, id int64, in dto.ClassifyRequest) (*models.Request, error)
	Prioritize(ctx context.Context, id int64, in dto.PrioritizeRequest) (*models.Request, error)
	Assign(ctx context.Context, id int64, in dto.AssignRequest) (*models.Request, error)
	ChangeState(ctx context.Context, id int64, in dto.ChangeStateRequest) (*models.Request, error)
	Close(ctx context.Context, id int64, in dto.CloseRequest) (*models.Request, error)
	Get(ctx context.Context, id int64) (*models.Request, error)
	List(ctx context.Context, query dto.RequestQuery) ([]models.Request, error)
	Recent(ctx context.Context, n int) ([]models.Request, error)
	NextStates(state string) (*dto.NextStatesResponse, error)
}

type historyService interface {
	ListFor(ctx context.Context, requestID int64) (iter.Seq[models.HistoryEntry], error)
}

// RequestHandler exposes the academic request lifecycle over HTTP.
type RequestHandler struct {
	service requestService
	history historyService
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(svc requestService, history historyService) *RequestHandler {
	return &RequestHandler{service: svc, history: history}
}

// Submit godoc
// @Summary Submit request
// @Description Register a new academic request in state REGISTERED
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	created, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List requests
// @Description List requests, newest first, filtered by state, type, priority, responsible or requester
// @Tags Requests
// @Produce json
// @Param state query string false "State"
// @Param type query string false "Request type"
// @Param priority query string false "Priority"
// @Param responsibleId query int false "Responsible user ID"
// @Param requesterId query int false "Requester user ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var query dto.RequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	requests, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil, map[string]interface{}{"count": len(requests)})
}

// Recent godoc
// @Summary Most recent requests
// @Tags Requests
// @Produce json
// @Param limit query int false "Number of requests (default 5)"
// @Success 200 {object} response.Envelope
// @Router /requests/recent [get]
func (h *RequestHandler) Recent(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	requests, err := h.service.Recent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, requests)
}

// Get godoc
// @Summary Get request
// @Description Get a request with its history
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	req, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, req)
}

// History godoc
// @Summary Request history
// @Description Audit entries in the order they were recorded
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id}/history [get]
func (h *RequestHandler) History(c *gin.Context) {
	if h.history == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	seq, err := h.history.ListFor(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, service.Collect(seq))
}

// Classify godoc
// @Summary Classify request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.ClassifyRequest true "Classification"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/classify [put]
func (h *RequestHandler) Classify(c *gin.Context) {
	var req dto.ClassifyRequest
	h.mutate(c, &req, func(ctx context.Context, id int64) (*models.Request, error) {
		return h.service.Classify(ctx, id, req)
	})
}

// Prioritize godoc
// @Summary Prioritize request
// @Description Set a priority, or omit it to let the scoring policy decide
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.PrioritizeRequest false "Priority"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/prioritize [put]
func (h *RequestHandler) Prioritize(c *gin.Context) {
	var req dto.PrioritizeRequest
	h.mutateWith(c, bindOptionalJSON, &req, func(ctx context.Context, id int64) (*models.Request, error) {
		return h.service.Prioritize(ctx, id, req)
	})
}

// Assign godoc
// @Summary Assign responsible
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.AssignRequest true "Responsible"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/assign [put]
func (h *RequestHandler) Assign(c *gin.Context) {
	var req dto.AssignRequest
	h.mutate(c, &req, func(ctx context.Context, id int64) (*models.Request, error) {
		return h.service.Assign(ctx, id, req)
	})
}

// ChangeState godoc
// @Summary Change request state
// @Description Move the request to its immediate successor state
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.ChangeStateRequest true "Target state"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /requests/{id}/state [put]
func (h *RequestHandler) ChangeState(c *gin.Context) {
	var req dto.ChangeStateRequest
	h.mutate(c, &req, func(ctx context.Context, id int64) (*models.Request, error) {
		return h.service.ChangeState(ctx, id, req)
	})
}

// Close godoc
// @Summary Close request
// @Description Close an attended request. Remarks are required
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.CloseRequest true "Closing remarks"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/close [put]
func (h *RequestHandler) Close(c *gin.Context) {
	var req dto.CloseRequest
	h.mutate(c, &req, func(ctx context.Context, id int64) (*models.Request, error) {
		return h.service.Close(ctx, id, req)
	})
}

// NextStates godoc
// @Summary Legal next states
// @Tags Requests
// @Produce json
// @Param state path string true "Current state"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/states/{state}/next [get]
func (h *RequestHandler) NextStates(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	next, err := h.service.NextStates(c.Param("state"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, next)
}

func (h *RequestHandler) mutate(c *gin.Context, payload interface{}, call func(ctx context.Context, id int64) (*models.Request, error)) {
	h.mutateWith(c, func(c *gin.Context, payload interface{}) error { return c.ShouldBindJSON(payload) }, payload, call)
}

func (h *RequestHandler) mutateWith(c *gin.Context, bind func(*gin.Context, interface{}) error, payload interface{}, call func(ctx context.Context, id int64) (*models.Request, error)) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := bind(c, payload); err != nil {
		response.Error(c, bindError(err))
		return
	}
	updated, err := call(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, updated)
}
