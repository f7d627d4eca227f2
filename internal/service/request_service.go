package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
)

const (
	minTitleLength       = 5
	minDescriptionLength = 10
	defaultRecentLimit   = 5
)

type requestStore interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id int64) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	ApplyChange(ctx context.Context, req *models.Request, entry *models.HistoryEntry) error
}

type userFinder interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// RequestChangeListener is notified after a request change has been committed.
type RequestChangeListener interface {
	RequestChanged(ctx context.Context, requestID int64)
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithPriorityPolicy overrides the automatic prioritization policy.
func WithPriorityPolicy(policy PriorityPolicy) RequestServiceOption {
	return func(s *RequestService) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithRequestChangeListener registers a post-commit listener.
func WithRequestChangeListener(listener RequestChangeListener) RequestServiceOption {
	return func(s *RequestService) {
		if listener != nil {
			s.listeners = append(s.listeners, listener)
		}
	}
}

// WithRequestMetrics attaches lifecycle metrics.
func WithRequestMetrics(metrics *MetricsService) RequestServiceOption {
	return func(s *RequestService) {
		s.metrics = metrics
	}
}

// WithRequestClock overrides the time source.
func WithRequestClock(now func() time.Time) RequestServiceOption {
	return func(s *RequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRequireResponsible makes ATTENDED and CLOSED unreachable without a responsible.
func WithRequireResponsible(required bool) RequestServiceOption {
	return func(s *RequestService) {
		s.requireResponsible = required
	}
}

// RequestService drives requests through their lifecycle. Mutations on the
// same request are serialized; the state change and its history entry are
// committed together or not at all.
type RequestService struct {
	store              requestStore
	users              userFinder
	policy             PriorityPolicy
	listeners          []RequestChangeListener
	metrics            *MetricsService
	locks              *requestLocks
	validator          *validator.Validate
	logger             *zap.Logger
	now                func() time.Time
	requireResponsible bool
}

// NewRequestService constructs the service with defaults.
func NewRequestService(store requestStore, users userFinder, validate *validator.Validate, logger *zap.Logger, opts ...RequestServiceOption) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &RequestService{
		store:     store,
		users:     users,
		locks:     newRequestLocks(),
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.policy == nil {
		svc.policy = NewScoringPolicy(DefaultScoringRules(), svc.now)
	}
	return svc
}

// Submit registers a new request in state REGISTERED.
func (s *RequestService) Submit(ctx context.Context, in dto.SubmitRequest) (*models.Request, error) {
	req, err := s.submit(ctx, in)
	s.record("submit", err)
	return req, err
}

func (s *RequestService) submit(ctx context.Context, in dto.SubmitRequest) (*models.Request, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	title := strings.TrimSpace(in.Title)
	if utf8.RuneCountInString(title) < minTitleLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("title must have at least %d characters", minTitleLength))
	}
	description := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(description) < minDescriptionLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("description must have at least %d characters", minDescriptionLength))
	}
	channel, ok := models.ParseChannel(in.Channel)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown channel %q", in.Channel))
	}
	requester, err := s.findUser(ctx, in.RequesterID, "requester")
	if err != nil {
		return nil, err
	}
	if !requester.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "requester not found or inactive")
	}

	now := s.now().UTC()
	req := &models.Request{
		Title:       title,
		Description: description,
		State:       models.StateRegistered,
		Channel:     channel,
		RequesterID: requester.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
		History:     []models.HistoryEntry{},
	}
	if in.Deadline != nil {
		deadline := in.Deadline.UTC()
		req.Deadline = &deadline
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register request")
	}
	s.logger.Info("request submitted", zap.Int64("request_id", req.ID), zap.Int64("requester_id", req.RequesterID), zap.String("channel", string(channel)))
	s.notify(ctx, req.ID)
	return req, nil
}

// Classify sets the request type and moves REGISTERED requests to CLASSIFIED.
func (s *RequestService) Classify(ctx context.Context, id int64, in dto.ClassifyRequest) (*models.Request, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, s.fail("classify", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classify payload"))
	}
	reqType, ok := models.ParseRequestType(in.Type)
	if !ok {
		return nil, s.fail("classify", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type %q", in.Type)))
	}
	return s.mutate(ctx, "classify", id, in.ActorID, func(req *models.Request) (*models.HistoryEntry, error) {
		if req.State.Terminal() {
			return nil, closedError("classify")
		}
		req.Type = &reqType
		if req.State == models.StateRegistered {
			req.State = models.StateClassified
		}
		return newHistoryEntry(in.ActorID, models.HistoryActionClassified, in.Remarks), nil
	})
}

// Prioritize stores the given priority, or derives one from the policy when
// none is given. A derived priority keeps the policy's justification.
func (s *RequestService) Prioritize(ctx context.Context, id int64, in dto.PrioritizeRequest) (*models.Request, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, s.fail("prioritize", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid prioritize payload"))
	}
	var explicit *models.Priority
	if in.Priority != nil && strings.TrimSpace(*in.Priority) != "" {
		p, ok := models.ParsePriority(*in.Priority)
		if !ok {
			return nil, s.fail("prioritize", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", *in.Priority)))
		}
		explicit = &p
	}
	return s.mutate(ctx, "prioritize", id, in.ActorID, func(req *models.Request) (*models.HistoryEntry, error) {
		if req.State.Terminal() {
			return nil, closedError("prioritize")
		}
		remarks := in.Remarks
		if explicit != nil {
			p := *explicit
			req.Priority = &p
			req.PriorityReason = nil
		} else {
			decision := s.policy.Decide(req)
			if !decision.Priority.Valid() {
				return nil, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("priority policy returned %q", decision.Priority))
			}
			req.Priority = &decision.Priority
			reason := decision.Reason
			req.PriorityReason = &reason
			if remarks == nil || strings.TrimSpace(*remarks) == "" {
				remarks = &reason
			}
		}
		return newHistoryEntry(in.ActorID, models.HistoryActionPrioritized, remarks), nil
	})
}

// Assign hands the request to an active user with role RESPONSIBLE.
func (s *RequestService) Assign(ctx context.Context, id int64, in dto.AssignRequest) (*models.Request, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, s.fail("assign", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assign payload"))
	}
	return s.mutate(ctx, "assign", id, in.ActorID, func(req *models.Request) (*models.HistoryEntry, error) {
		if req.State.Terminal() {
			return nil, closedError("assign")
		}
		responsible, err := s.findUser(ctx, in.ResponsibleID, "responsible")
		if err != nil {
			return nil, err
		}
		if !responsible.CanBeAssigned() {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active responsible user with that id")
		}
		responsibleID := responsible.ID
		req.ResponsibleID = &responsibleID
		return newHistoryEntry(in.ActorID, models.HistoryActionAssigned, in.Remarks), nil
	})
}

// ChangeState moves the request to the single legal successor of its state.
// Moving to CLOSED follows the same rules as Close.
func (s *RequestService) ChangeState(ctx context.Context, id int64, in dto.ChangeStateRequest) (*models.Request, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, s.fail("change_state", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change state payload"))
	}
	next, ok := models.ParseRequestState(in.State)
	if !ok {
		return nil, s.fail("change_state", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown state %q", in.State)))
	}
	return s.mutate(ctx, "change_state", id, in.ActorID, func(req *models.Request) (*models.HistoryEntry, error) {
		if !req.State.CanTransitionTo(next) {
			return nil, illegalTransitionError(req.State, next)
		}
		if next == models.StateClassified && req.Type == nil {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "request must be classified with a type first")
		}
		if next == models.StateClosed {
			remarks := ""
			if in.Remarks != nil {
				remarks = *in.Remarks
			}
			return s.applyClose(req, in.ActorID, remarks)
		}
		if err := s.checkResponsible(req, next); err != nil {
			return nil, err
		}
		req.State = next
		return newHistoryEntry(in.ActorID, models.StateChangedAction(next), in.Remarks), nil
	})
}

// Close closes an ATTENDED request. Remarks are mandatory.
func (s *RequestService) Close(ctx context.Context, id int64, in dto.CloseRequest) (*models.Request, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, s.fail("close", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid close payload"))
	}
	if strings.TrimSpace(in.Remarks) == "" {
		return nil, s.fail("close", appErrors.Clone(appErrors.ErrValidation, "remarks are required to close a request"))
	}
	return s.mutate(ctx, "close", id, in.ActorID, func(req *models.Request) (*models.HistoryEntry, error) {
		if req.State != models.StateAttended {
			return nil, appErrors.WithDetails(appErrors.ErrInvalidState,
				fmt.Sprintf("only ATTENDED requests can be closed, request is %s", req.State),
				map[string]interface{}{"current": req.State, "required": models.StateAttended})
		}
		return s.applyClose(req, in.ActorID, in.Remarks)
	})
}

func (s *RequestService) applyClose(req *models.Request, actorID *int64, remarks string) (*models.HistoryEntry, error) {
	trimmed := strings.TrimSpace(remarks)
	if trimmed == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "remarks are required to close a request")
	}
	if err := s.checkResponsible(req, models.StateClosed); err != nil {
		return nil, err
	}
	req.State = models.StateClosed
	req.Remarks = &trimmed
	return newHistoryEntry(actorID, models.HistoryActionClosed, &trimmed), nil
}

func (s *RequestService) checkResponsible(req *models.Request, next models.RequestState) error {
	if !s.requireResponsible || req.ResponsibleID != nil {
		return nil
	}
	if next == models.StateAttended || next == models.StateClosed {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("a responsible must be assigned before moving to %s", next))
	}
	return nil
}

// Get returns a request with its full history.
func (s *RequestService) Get(ctx context.Context, id int64) (*models.Request, error) {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, mapRequestLoadError(err)
	}
	sortHistory(req.History)
	return req, nil
}

// List returns requests matching the query, newest first.
func (s *RequestService) List(ctx context.Context, query dto.RequestQuery) ([]models.Request, error) {
	filter, err := ParseRequestFilter(query)
	if err != nil {
		return nil, err
	}
	requests, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, nil
}

// Recent returns the n most recently created requests.
func (s *RequestService) Recent(ctx context.Context, n int) ([]models.Request, error) {
	if n <= 0 {
		n = defaultRecentLimit
	}
	requests, err := s.store.List(ctx, models.RequestFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return MostRecent(requests, n), nil
}

// NextStates describes the legal successors of a state.
func (s *RequestService) NextStates(state string) (*dto.NextStatesResponse, error) {
	current, ok := models.ParseRequestState(state)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown state %q", state))
	}
	next := models.LegalNextStates(current)
	resp := &dto.NextStatesResponse{
		State:    dto.StateOption{Value: string(current), Label: current.Label()},
		Next:     make([]dto.StateOption, 0, len(next)),
		Terminal: current.Terminal(),
	}
	for _, st := range next {
		resp.Next = append(resp.Next, dto.StateOption{Value: string(st), Label: st.Label()})
	}
	return resp, nil
}

// ParseRequestFilter converts query parameters into a filter. Blank values are wildcards.
func ParseRequestFilter(query dto.RequestQuery) (models.RequestFilter, error) {
	var filter models.RequestFilter
	if strings.TrimSpace(query.State) != "" {
		st, ok := models.ParseRequestState(query.State)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown state %q", query.State))
		}
		filter.State = &st
	}
	if strings.TrimSpace(query.Type) != "" {
		t, ok := models.ParseRequestType(query.Type)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type %q", query.Type))
		}
		filter.Type = &t
	}
	if strings.TrimSpace(query.Priority) != "" {
		p, ok := models.ParsePriority(query.Priority)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", query.Priority))
		}
		filter.Priority = &p
	}
	filter.ResponsibleID = query.ResponsibleID
	filter.RequesterID = query.RequesterID
	return filter, nil
}

// mutate runs one lifecycle action under the request lock: load, apply to a
// copy, then commit the copy together with its history entry.
func (s *RequestService) mutate(ctx context.Context, action string, id int64, actorID *int64, apply func(req *models.Request) (*models.HistoryEntry, error)) (*models.Request, error) {
	waitStart := time.Now()
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, s.fail(action, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "request is busy, try again"))
	}
	defer unlock()
	s.metrics.ObserveLockWait(time.Since(waitStart))

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(action, mapRequestLoadError(err))
	}
	if actorID != nil {
		if _, err := s.findUser(ctx, *actorID, "actor"); err != nil {
			return nil, s.fail(action, err)
		}
	}

	next := current.Clone()
	entry, err := apply(next)
	if err != nil {
		return nil, s.fail(action, err)
	}
	now := s.now().UTC()
	next.UpdatedAt = now
	entry.OccurredAt = now
	entry.ActorID = actorID

	if err := s.store.ApplyChange(ctx, next, entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.fail(action, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "request was modified concurrently"))
		}
		return nil, s.fail(action, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save request change"))
	}

	s.record(action, nil)
	s.logger.Info("request updated",
		zap.Int64("request_id", next.ID),
		zap.String("action", entry.Action),
		zap.String("state", string(next.State)),
	)
	s.notify(ctx, next.ID)
	return next, nil
}

func (s *RequestService) findUser(ctx context.Context, id int64, role string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %d not found", role, id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to load %s", role))
	}
	return user, nil
}

func (s *RequestService) notify(ctx context.Context, id int64) {
	for _, listener := range s.listeners {
		listener.RequestChanged(ctx, id)
	}
}

func (s *RequestService) fail(action string, err error) error {
	s.record(action, err)
	return err
}

func (s *RequestService) record(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordLifecycleAction(action, outcome)
}

func mapRequestLoadError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
}

func closedError(action string) error {
	return appErrors.WithDetails(appErrors.ErrInvalidState,
		fmt.Sprintf("cannot %s a closed request", action),
		map[string]interface{}{"current": models.StateClosed})
}

func illegalTransitionError(current, requested models.RequestState) error {
	legal := models.LegalNextStates(current)
	legalNames := make([]string, len(legal))
	for i, st := range legal {
		legalNames[i] = string(st)
	}
	message := fmt.Sprintf("cannot move request from %s to %s", current, requested)
	if len(legal) == 0 {
		message = fmt.Sprintf("request is %s and accepts no further transitions", current)
	} else {
		message += fmt.Sprintf("; next legal state is %s", strings.Join(legalNames, ", "))
	}
	return appErrors.WithDetails(appErrors.ErrIllegalTransition, message, map[string]interface{}{
		"current":   current,
		"requested": requested,
		"legalNext": legalNames,
	})
}
