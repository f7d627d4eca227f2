package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-requests-api/internal/dto"
	"github.com/noah-isme/academic-requests-api/internal/models"
	appErrors "github.com/noah-isme/academic-requests-api/pkg/errors"
)

type userRepoStub struct {
	users      map[int64]*models.User
	nextID     int64
	lastFilter models.UserFilter
}

func newUserRepoStub(users ...models.User) *userRepoStub {
	stub := &userRepoStub{users: make(map[int64]*models.User)}
	for i := range users {
		u := users[i]
		stub.users[u.ID] = &u
		if u.ID > stub.nextID {
			stub.nextID = u.ID
		}
	}
	return stub
}

func (s *userRepoStub) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	s.lastFilter = filter
	result := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		result = append(result, *u)
	}
	return result, len(result), nil
}

func (s *userRepoStub) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) FindByIdentification(ctx context.Context, identification string) (*models.User, error) {
	for _, u := range s.users {
		if u.Identification == identification {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) Create(ctx context.Context, user *models.User) error {
	s.nextID++
	user.ID = s.nextID
	copy := *user
	s.users[user.ID] = &copy
	return nil
}

func (s *userRepoStub) Update(ctx context.Context, user *models.User) error {
	if _, ok := s.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *user
	s.users[user.ID] = &copy
	return nil
}

func (s *userRepoStub) SetActive(ctx context.Context, id int64, active bool) error {
	u, ok := s.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Active = active
	return nil
}

var carlos = models.User{ID: 3, Identification: "8001234567", GivenName: "Carlos", FamilyName: "López", Email: "carlos.lopez@uq.edu.co", Role: models.RoleResponsible, Active: true}

func TestUserServiceCreate(t *testing.T) {
	repo := newUserRepoStub(carlos)
	svc := NewUserService(repo, nil, nil)
	ctx := context.Background()

	user, err := svc.Create(ctx, dto.CreateUserRequest{
		Identification: "9001234567",
		GivenName:      "Ana",
		FamilyName:     "Martínez",
		Email:          "Ana.Martinez@uq.edu.co",
		Role:           "administrative",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), user.ID)
	assert.Equal(t, models.RoleAdministrative, user.Role)
	assert.Equal(t, "ana.martinez@uq.edu.co", user.Email)
	assert.True(t, user.Active)
}

func TestUserServiceCreateRejectsDuplicatesAndBadInput(t *testing.T) {
	svc := NewUserService(newUserRepoStub(carlos), nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, dto.CreateUserRequest{Identification: "8001234567", GivenName: "Otro", FamilyName: "López", Email: "otro@uq.edu.co", Role: "STUDENT"})
	require.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Create(ctx, dto.CreateUserRequest{Identification: "1112223334", GivenName: "Carlos", FamilyName: "L", Email: "CARLOS.LOPEZ@uq.edu.co", Role: "STUDENT"})
	require.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.Create(ctx, dto.CreateUserRequest{Identification: "1112223334", GivenName: "Pedro", FamilyName: "Ramírez", Email: "not-an-email", Role: "TEACHER"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Create(ctx, dto.CreateUserRequest{Identification: "1112223334", GivenName: "Pedro", FamilyName: "Ramírez", Email: "pedro@uq.edu.co", Role: "DEAN"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUserServiceDeactivateAndResponsibles(t *testing.T) {
	repo := newUserRepoStub(carlos, models.User{ID: 1, Role: models.RoleStudent, Active: true})
	svc := NewUserService(repo, nil, nil)
	ctx := context.Background()

	responsibles, err := svc.Responsibles(ctx)
	require.NoError(t, err)
	require.Len(t, responsibles, 1)

	user, err := svc.Deactivate(ctx, 3)
	require.NoError(t, err)
	assert.False(t, user.Active)
	assert.False(t, user.CanBeAssigned())

	responsibles, err = svc.Responsibles(ctx)
	require.NoError(t, err)
	assert.Empty(t, responsibles)

	user, err = svc.Activate(ctx, 3)
	require.NoError(t, err)
	assert.True(t, user.Active)

	_, err = svc.Deactivate(ctx, 404)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestUserServiceListParsesRole(t *testing.T) {
	repo := newUserRepoStub(carlos)
	svc := NewUserService(repo, nil, nil)

	users, pagination, err := svc.List(context.Background(), dto.UserQuery{Role: "responsible", PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 20, pagination.PageSize)
	require.NotNil(t, repo.lastFilter.Role)
	assert.Equal(t, models.RoleResponsible, *repo.lastFilter.Role)

	_, _, err = svc.List(context.Background(), dto.UserQuery{Role: "rector"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUserServiceUpdate(t *testing.T) {
	svc := NewUserService(newUserRepoStub(carlos), nil, nil)
	user, err := svc.Update(context.Background(), 3, dto.UpdateUserRequest{GivenName: "Carlos Andrés", FamilyName: "López", Role: "TEACHER"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, user.Role)
	assert.Equal(t, "Carlos Andrés López", user.FullName())

	_, err = svc.Get(context.Background(), 99)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}
