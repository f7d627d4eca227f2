package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
)

type memoryRequestStore struct {
	mu        sync.Mutex
	requests  map[int64]*models.Request
	history   map[int64][]models.HistoryEntry
	nextID    int64
	nextEntry int64
	applyErr  error
	applied   int
}

func newMemoryRequestStore() *memoryRequestStore {
	return &memoryRequestStore{requests: make(map[int64]*models.Request), history: make(map[int64][]models.HistoryEntry)}
}

func (m *memoryRequestStore) Create(ctx context.Context, req *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	req.Version = 1
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *memoryRequestStore) GetByID(ctx context.Context, id int64) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	req := stored.Clone()
	req.History = append([]models.HistoryEntry{}, m.history[id]...)
	return req, nil
}

func (m *memoryRequestStore) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]models.Request, 0, len(m.requests))
	for _, req := range m.requests {
		if filter.Matches(*req) {
			result = append(result, *req.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *memoryRequestStore) ApplyChange(ctx context.Context, req *models.Request, entry *models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	stored, ok := m.requests[req.ID]
	if !ok || stored.Version != req.Version {
		return sql.ErrNoRows
	}
	m.nextEntry++
	entry.ID = m.nextEntry
	entry.RequestID = req.ID
	req.Version++
	saved := req.Clone()
	saved.History = nil
	m.requests[req.ID] = saved
	m.history[req.ID] = append(m.history[req.ID], *entry)
	req.History = append(req.History, *entry)
	m.applied++
	return nil
}

func (m *memoryRequestStore) Exists(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.requests[id]
	return ok, nil
}

func (m *memoryRequestStore) ListHistory(ctx context.Context, requestID int64) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.HistoryEntry{}, m.history[requestID]...), nil
}

func (m *memoryRequestStore) snapshot(t *testing.T, id int64) *models.Request {
	t.Helper()
	req, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return req
}

type userFinderStub struct {
	users map[int64]*models.User
}

func (u userFinderStub) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if user, ok := u.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func demoUsers() userFinderStub {
	return userFinderStub{users: map[int64]*models.User{
		1: {ID: 1, GivenName: "Juan", FamilyName: "Pérez", Role: models.RoleStudent, Active: true},
		2: {ID: 2, GivenName: "María", FamilyName: "García", Role: models.RoleStudent, Active: true},
		3: {ID: 3, GivenName: "Carlos", FamilyName: "López", Role: models.RoleResponsible, Active: true},
		4: {ID: 4, GivenName: "Ana", FamilyName: "Martínez", Role: models.RoleAdministrative, Active: true},
		6: {ID: 6, GivenName: "Laura", FamilyName: "Gómez", Role: models.RoleResponsible, Active: false},
	}}
}

type listenerStub struct {
	mu  sync.Mutex
	ids []int64
}

func (l *listenerStub) RequestChanged(ctx context.Context, id int64) {
	l.mu.Lock()
	l.ids = append(l.ids, id)
	l.mu.Unlock()
}

var fixedNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestRequestService(opts ...RequestServiceOption) (*RequestService, *memoryRequestStore) {
	store := newMemoryRequestStore()
	opts = append([]RequestServiceOption{WithRequestClock(func() time.Time { return fixedNow })}, opts...)
	return NewRequestService(store, demoUsers(), nil, nil, opts...), store
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func submitSample(t *testing.T, svc *RequestService) *models.Request {
	t.Helper()
	req, err := svc.Submit(context.Background(), dto.SubmitRequest{
		Title:       "Cambio de grupo",
		Description: "Necesito cambiar de grupo por choque de horario",
		Channel:     "CSU",
		RequesterID: 1,
	})
	require.NoError(t, err)
	return req
}

// driveTo moves a freshly submitted request forward until it reaches target.
func driveTo(t *testing.T, svc *RequestService, id int64, target models.RequestState) *models.Request {
	t.Helper()
	ctx := context.Background()
	req, err := svc.Get(ctx, id)
	require.NoError(t, err)
	for req.State != target {
		switch req.State {
		case models.StateRegistered:
			req, err = svc.Classify(ctx, id, dto.ClassifyRequest{Type: "REGISTRO_ASIGNATURAS"})
		case models.StateAttended:
			req, err = svc.Close(ctx, id, dto.CloseRequest{Remarks: "Resuelto"})
		default:
			next, _ := req.State.Next()
			req, err = svc.ChangeState(ctx, id, dto.ChangeStateRequest{State: string(next)})
		}
		require.NoError(t, err)
	}
	return req
}

func TestRequestLifecycleScenario(t *testing.T) {
	listener := &listenerStub{}
	svc, _ := newTestRequestService(WithRequestChangeListener(listener))
	ctx := context.Background()

	req := submitSample(t, svc)
	assert.Equal(t, int64(1), req.ID)
	assert.Equal(t, models.StateRegistered, req.State)
	assert.Nil(t, req.Type)
	assert.Empty(t, req.History)

	req, err := svc.Classify(ctx, 1, dto.ClassifyRequest{Type: "REGISTRO_ASIGNATURAS"})
	require.NoError(t, err)
	assert.Equal(t, models.StateClassified, req.State)
	assert.Len(t, req.History, 1)
	assert.Equal(t, models.HistoryActionClassified, req.History[0].Action)

	req, err = svc.ChangeState(ctx, 1, dto.ChangeStateRequest{State: "IN_PROGRESS"})
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, req.State)
	assert.Len(t, req.History, 2)
	assert.Equal(t, "State changed to IN_PROGRESS", req.History[1].Action)

	_, err = svc.ChangeState(ctx, 1, dto.ChangeStateRequest{State: "CLOSED"})
	require.ErrorIs(t, err, appErrors.ErrIllegalTransition)
	appErr := appErrors.FromError(err)
	assert.Equal(t, []string{"ATTENDED"}, appErr.Details["legalNext"])

	req, err = svc.ChangeState(ctx, 1, dto.ChangeStateRequest{State: "ATTENDED"})
	require.NoError(t, err)
	assert.Equal(t, models.StateAttended, req.State)

	req, err = svc.Close(ctx, 1, dto.CloseRequest{Remarks: "Resuelto"})
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, req.State)
	assert.Len(t, req.History, 4)
	assert.Equal(t, models.HistoryActionClosed, req.History[3].Action)
	require.NotNil(t, req.Remarks)
	assert.Equal(t, "Resuelto", *req.Remarks)

	assert.Equal(t, []int64{1, 1, 1, 1, 1}, listener.ids)
}

func TestSubmitValidation(t *testing.T) {
	svc, store := newTestRequestService()
	ctx := context.Background()

	cases := map[string]dto.SubmitRequest{
		"short title":       {Title: "Hola", Description: "Descripción suficientemente larga", Channel: "CSU", RequesterID: 1},
		"padded title":      {Title: "  abc   ", Description: "Descripción suficientemente larga", Channel: "CSU", RequesterID: 1},
		"short description": {Title: "Cambio de grupo", Description: "Corta", Channel: "CSU", RequesterID: 1},
		"unknown channel":   {Title: "Cambio de grupo", Description: "Descripción suficientemente larga", Channel: "FAX", RequesterID: 1},
		"missing requester": {Title: "Cambio de grupo", Description: "Descripción suficientemente larga", Channel: "CSU"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Submit(ctx, in)
			require.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}

	_, err := svc.Submit(ctx, dto.SubmitRequest{Title: "Cambio de grupo", Description: "Descripción suficientemente larga", Channel: "email", RequesterID: 99})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Empty(t, store.requests)
}

func TestClassifyOnLaterStateKeepsState(t *testing.T) {
	svc, _ := newTestRequestService()
	ctx := context.Background()
	req := submitSample(t, svc)
	driveTo(t, svc, req.ID, models.StateInProgress)

	updated, err := svc.Classify(ctx, req.ID, dto.ClassifyRequest{Type: "homologacion", Remarks: strPtr("reclasificada")})
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, updated.State)
	require.NotNil(t, updated.Type)
	assert.Equal(t, models.RequestTypeCreditTransfer, *updated.Type)
	last := updated.History[len(updated.History)-1]
	require.NotNil(t, last.Remarks)
	assert.Equal(t, "reclasificada", *last.Remarks)

	_, err = svc.Classify(ctx, req.ID, dto.ClassifyRequest{Type: "UNKNOWN"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestChangeStateRejectsEveryNonSuccessor(t *testing.T) {
	for _, from := range models.RequestStates {
		for _, to := range models.RequestStates {
			if from.CanTransitionTo(to) {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				svc, store := newTestRequestService()
				req := submitSample(t, svc)
				driveTo(t, svc, req.ID, from)
				before := store.snapshot(t, req.ID)

				_, err := svc.ChangeState(context.Background(), req.ID, dto.ChangeStateRequest{State: string(to), Remarks: strPtr("intento")})
				require.ErrorIs(t, err, appErrors.ErrIllegalTransition)

				after := store.snapshot(t, req.ID)
				assert.Equal(t, before, after)
			})
		}
	}
}

func TestChangeStateToClassifiedRequiresType(t *testing.T) {
	svc, store := newTestRequestService()
	ctx := context.Background()
	req := submitSample(t, svc)
	before := store.snapshot(t, req.ID)

	_, err := svc.ChangeState(ctx, req.ID, dto.ChangeStateRequest{State: string(models.StateClassified)})
	require.ErrorIs(t, err, appErrors.ErrInvalidState)
	after := store.snapshot(t, req.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, models.StateRegistered, after.State)
	assert.Nil(t, after.Type)
	assert.Empty(t, after.History)

	classified, err := svc.Classify(ctx, req.ID, dto.ClassifyRequest{Type: "REGISTRO_ASIGNATURAS"})
	require.NoError(t, err)
	assert.Equal(t, models.StateClassified, classified.State)
	require.NotNil(t, classified.Type)
}

func TestChangeStateToClosedFollowsCloseRules(t *testing.T) {
	svc, _ := newTestRequestService()
	ctx := context.Background()
	req := submitSample(t, svc)
	driveTo(t, svc, req.ID, models.StateAttended)

	_, err := svc.ChangeState(ctx, req.ID, dto.ChangeStateRequest{State: "CLOSED"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	closed, err := svc.ChangeState(ctx, req.ID, dto.ChangeStateRequest{State: "CLOSED", Remarks: strPtr("Atendida por ventanilla")})
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, closed.State)
	assert.Equal(t, models.HistoryActionClosed, closed.History[len(closed.History)-1].Action)
}

func TestCloseConditionsAreIndependent(t *testing.T) {
	ctx := context.Background()

	t.Run("attended without remarks", func(t *testing.T) {
		svc, store := newTestRequestService()
		req := submitSample(t, svc)
		driveTo(t, svc, req.ID, models.StateAttended)
		for _, remarks := range []string{"", "   \t"} {
			_, err := svc.Close(ctx, req.ID, dto.CloseRequest{Remarks: remarks})
			require.ErrorIs(t, err, appErrors.ErrValidation)
		}
		assert.Equal(t, models.StateAttended, store.snapshot(t, req.ID).State)
	})

	t.Run("remarks without attended", func(t *testing.T) {
		svc, store := newTestRequestService()
		req := submitSample(t, svc)
		driveTo(t, svc, req.ID, models.StateInProgress)
		_, err := svc.Close(ctx, req.ID, dto.CloseRequest{Remarks: "Resuelto"})
		require.ErrorIs(t, err, appErrors.ErrInvalidState)
		assert.Len(t, store.snapshot(t, req.ID).History, 2)
	})
}

func TestClosedRequestIsAbsorbing(t *testing.T) {
	svc, store := newTestRequestService()
	ctx := context.Background()
	req := submitSample(t, svc)
	driveTo(t, svc, req.ID, models.StateClosed)
	before := store.snapshot(t, req.ID)

	_, err := svc.Classify(ctx, req.ID, dto.ClassifyRequest{Type: "HOMOLOGACION"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
	_, err = svc.Prioritize(ctx, req.ID, dto.PrioritizeRequest{Priority: strPtr("HIGH")})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
	_, err = svc.Assign(ctx, req.ID, dto.AssignRequest{ResponsibleID: 3})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
	for _, st := range models.RequestStates {
		_, err = svc.ChangeState(ctx, req.ID, dto.ChangeStateRequest{State: string(st), Remarks: strPtr("otra vez")})
		assert.ErrorIs(t, err, appErrors.ErrIllegalTransition)
	}
	_, err = svc.Close(ctx, req.ID, dto.CloseRequest{Remarks: "otra vez"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	assert.Equal(t, before, store.snapshot(t, req.ID))
}

func TestAssignRequiresActiveResponsible(t *testing.T) {
	svc, _ := newTestRequestService()
	ctx := context.Background()
	req := submitSample(t, svc)

	for _, id := range []int64{2, 6, 99} {
		_, err := svc.Assign(ctx, req.ID, dto.AssignRequest{ResponsibleID: id})
		require.ErrorIs(t, err, appErrors.ErrNotFound, "user %d", id)
	}

	updated, err := svc.Assign(ctx, req.ID, dto.AssignRequest{ResponsibleID: 3, Remarks: strPtr("turno mañana"), ActorID: int64Ptr(4)})
	require.NoError(t, err)
	require.NotNil(t, updated.ResponsibleID)
	assert.Equal(t, int64(3), *updated.ResponsibleID)
	assert.Equal(t, models.StateRegistered, updated.State)
	require.Len(t, updated.History, 1)
	assert.Equal(t, models.HistoryActionAssigned, updated.History[0].Action)
	require.NotNil(t, updated.History[0].ActorID)
	assert.Equal(t, int64(4), *updated.History[0].ActorID)
}

func TestUnknownActorIsRejected(t *testing.T) {
	svc, store := newTestRequestService()
	req := submitSample(t, svc)

	_, err := svc.Classify(context.Background(), req.ID, dto.ClassifyRequest{Type: "CONSULTA_ACADEMICA", ActorID: int64Ptr(42)})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Empty(t, store.snapshot(t, req.ID).History)
}

func TestPrioritizeExplicitAndAutomatic(t *testing.T) {
	policy := PriorityPolicyFunc(func(req *models.Request) PriorityDecision {
		return PriorityDecision{Priority: models.PriorityCritical, Score: 9, Reason: "test policy"}
	})
	svc, _ := newTestRequestService(WithPriorityPolicy(policy))
	ctx := context.Background()
	req := submitSample(t, svc)

	updated, err := svc.Prioritize(ctx, req.ID, dto.PrioritizeRequest{})
	require.NoError(t, err)
	require.NotNil(t, updated.Priority)
	assert.Equal(t, models.PriorityCritical, *updated.Priority)
	require.NotNil(t, updated.PriorityReason)
	assert.Equal(t, "test policy", *updated.PriorityReason)
	require.NotNil(t, updated.History[0].Remarks)
	assert.Equal(t, "test policy", *updated.History[0].Remarks)
	assert.Equal(t, models.StateRegistered, updated.State)

	updated, err = svc.Prioritize(ctx, req.ID, dto.PrioritizeRequest{Priority: strPtr("low")})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityLow, *updated.Priority)
	assert.Nil(t, updated.PriorityReason)
	assert.Len(t, updated.History, 2)

	_, err = svc.Prioritize(ctx, req.ID, dto.PrioritizeRequest{Priority: strPtr("URGENT")})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRequireResponsibleBlocksAttended(t *testing.T) {
	svc, _ := newTestRequestService(WithRequireResponsible(true))
	ctx := context.Background()
	req := submitSample(t, svc)
	driveTo(t, svc, req.ID, models.StateInProgress)

	_, err := svc.ChangeState(ctx, req.ID, dto.ChangeStateRequest{State: "ATTENDED"})
	require.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = svc.Assign(ctx, req.ID, dto.AssignRequest{ResponsibleID: 3})
	require.NoError(t, err)
	updated, err := svc.ChangeState(ctx, req.ID, dto.ChangeStateRequest{State: "ATTENDED"})
	require.NoError(t, err)
	assert.Equal(t, models.StateAttended, updated.State)
}

func TestFailedWriteLeavesRequestUntouched(t *testing.T) {
	svc, store := newTestRequestService()
	ctx := context.Background()
	req := submitSample(t, svc)
	before := store.snapshot(t, req.ID)

	store.applyErr = errors.New("connection reset")
	_, err := svc.Classify(ctx, req.ID, dto.ClassifyRequest{Type: "CONSULTA_ACADEMICA"})
	require.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Equal(t, before, store.snapshot(t, req.ID))

	store.applyErr = sql.ErrNoRows
	_, err = svc.Classify(ctx, req.ID, dto.ClassifyRequest{Type: "CONSULTA_ACADEMICA"})
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestMissingRequestIsNotFound(t *testing.T) {
	svc, _ := newTestRequestService()
	ctx := context.Background()

	_, err := svc.Get(ctx, 77)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = svc.ChangeState(ctx, 77, dto.ChangeStateRequest{State: "CLASSIFIED"})
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestConcurrentTransitionsAreSerialized(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc, store := newTestRequestService()
	req := submitSample(t, svc)
	_, err := svc.Classify(context.Background(), req.ID, dto.ClassifyRequest{Type: "SOLICITUD_CUPOS"})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ChangeState(context.Background(), req.ID, dto.ChangeStateRequest{State: "IN_PROGRESS"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, appErrors.ErrIllegalTransition)
	}
	assert.Equal(t, 1, succeeded)
	final := store.snapshot(t, req.ID)
	assert.Equal(t, models.StateInProgress, final.State)
	assert.Len(t, final.History, 2)
	assert.Equal(t, 0, svc.locks.size())
}

func TestNextStates(t *testing.T) {
	svc, _ := newTestRequestService()

	resp, err := svc.NextStates("attended")
	require.NoError(t, err)
	require.Len(t, resp.Next, 1)
	assert.Equal(t, "CLOSED", resp.Next[0].Value)
	assert.False(t, resp.Terminal)

	resp, err = svc.NextStates("CLOSED")
	require.NoError(t, err)
	assert.Empty(t, resp.Next)
	assert.True(t, resp.Terminal)

	_, err = svc.NextStates("PENDING")
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestListAndRecent(t *testing.T) {
	svc, _ := newTestRequestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		submitSample(t, svc)
	}
	_, err := svc.Classify(ctx, 2, dto.ClassifyRequest{Type: "HOMOLOGACION"})
	require.NoError(t, err)

	classified, err := svc.List(ctx, dto.RequestQuery{State: "classified"})
	require.NoError(t, err)
	require.Len(t, classified, 1)
	assert.Equal(t, int64(2), classified[0].ID)

	_, err = svc.List(ctx, dto.RequestQuery{Priority: "whenever"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	recent, err := svc.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].ID)
	assert.Equal(t, int64(2), recent[1].ID)
}
