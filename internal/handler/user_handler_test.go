package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
)

type fakeUserSrv struct {
	user       *models.User
	err        error
	lastQuery  dto.UserQuery
	lastCreate dto.CreateUserRequest
	toggledID  int64
}

func (f *fakeUserSrv) List(_ context.Context, query dto.UserQuery) ([]models.User, *models.Pagination, error) {
	f.lastQuery = query
	return []models.User{*f.user}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, f.err
}

func (f *fakeUserSrv) Responsibles(context.Context) ([]models.User, error) {
	return []models.User{*f.user}, f.err
}

func (f *fakeUserSrv) Get(_ context.Context, id int64) (*models.User, error) {
	return f.user, f.err
}

func (f *fakeUserSrv) Create(_ context.Context, req dto.CreateUserRequest) (*models.User, error) {
	f.lastCreate = req
	return f.user, f.err
}

func (f *fakeUserSrv) Update(_ context.Context, id int64, req dto.UpdateUserRequest) (*models.User, error) {
	return f.user, f.err
}

func (f *fakeUserSrv) Deactivate(_ context.Context, id int64) (*models.User, error) {
	f.toggledID = id
	return f.user, f.err
}

func (f *fakeUserSrv) Activate(_ context.Context, id int64) (*models.User, error) {
	f.toggledID = id
	return f.user, f.err
}

func responsibleUser() *models.User {
	return &models.User{ID: 3, Identification: "8001234567", GivenName: "Carlos", FamilyName: "López", Email: "carlos.lopez@uq.edu.co", Role: models.RoleResponsible, Active: true}
}

func TestUserHandlerListBindsQuery(t *testing.T) {
	srv := &fakeUserSrv{user: responsibleUser()}
	handler := NewUserHandler(srv)

	c, rec := newRequestContext(http.MethodGet, "/users?role=RESPONSIBLE&active=true&q=lopez&page=2&page_size=10", "")
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RESPONSIBLE", srv.lastQuery.Role)
	assert.Equal(t, "lopez", srv.lastQuery.Search)
	assert.Equal(t, 2, srv.lastQuery.Page)
	assert.Equal(t, 10, srv.lastQuery.PageSize)
	require.NotNil(t, srv.lastQuery.Active)
	assert.True(t, *srv.lastQuery.Active)
}

func TestUserHandlerCreate(t *testing.T) {
	srv := &fakeUserSrv{user: responsibleUser()}
	handler := NewUserHandler(srv)

	c, rec := newRequestContext(http.MethodPost, "/users", `{"identification":"8001234567","givenName":"Carlos","familyName":"López","email":"carlos.lopez@uq.edu.co","role":"RESPONSIBLE"}`)
	handler.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "8001234567", srv.lastCreate.Identification)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, "RESPONSIBLE", envelope.Data["role"])
}

func TestUserHandlerCreateConflict(t *testing.T) {
	srv := &fakeUserSrv{user: responsibleUser(), err: appErrors.Clone(appErrors.ErrConflict, "email already exists")}
	handler := NewUserHandler(srv)

	c, rec := newRequestContext(http.MethodPost, "/users", `{"identification":"8001234567"}`)
	handler.Create(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUserHandlerDeactivate(t *testing.T) {
	user := responsibleUser()
	user.Active = false
	srv := &fakeUserSrv{user: user}
	handler := NewUserHandler(srv)

	c, rec := newRequestContext(http.MethodPut, "/users/3/deactivate", "", gin.Param{Key: "id", Value: "3"})
	handler.Deactivate(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), srv.toggledID)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, false, envelope.Data["active"])
}

func TestUserHandlerUnexpectedErrorIsInternal(t *testing.T) {
	srv := &fakeUserSrv{user: responsibleUser(), err: errors.New("boom")}
	handler := NewUserHandler(srv)

	c, rec := newRequestContext(http.MethodGet, "/users/responsibles", "")
	handler.Responsibles(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INTERNAL_ERROR", envelope.Error.Code)
}
