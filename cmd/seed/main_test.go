package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"fleetdesk/internal/model"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) Update(ctx context.Context, user *model.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context) ([]model.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.User), args.Error(1)
}

func TestParseUsers(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(t *testing.T, users []SeedUser)
	}{
		{
			name: "defaults role and name",
			data: "users:\n  - username: bob\n    password: pw\n",
			check: func(t *testing.T, users []SeedUser) {
				require.Len(t, users, 1)
				assert.Equal(t, model.RoleOperador, users[0].Role)
				assert.Equal(t, "bob", users[0].Name)
				assert.Nil(t, users[0].Active)
			},
		},
		{
			name: "explicit admin disabled",
			data: "users:\n  - username: alice\n    name: Alice\n    password: pw\n    role: admin\n    active: false\n",
			check: func(t *testing.T, users []SeedUser) {
				require.Len(t, users, 1)
				assert.Equal(t, model.RoleAdmin, users[0].Role)
				require.NotNil(t, users[0].Active)
				assert.False(t, *users[0].Active)
			},
		},
		{name: "unknown role", data: "users:\n  - username: eve\n    password: pw\n    role: root\n", wantErr: true},
		{name: "missing password", data: "users:\n  - username: eve\n", wantErr: true},
		{name: "not yaml", data: "users: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := parseUsers([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, users)
		})
	}
}

func TestSeedUsers_CreatesAndUpdates(t *testing.T) {
	repo := new(MockUserRepository)
	existing := &model.User{ID: 1, Username: "alice", Role: model.RoleOperador, Active: false}

	repo.On("FindByUsername", mock.Anything, "alice").Return(existing, nil)
	repo.On("FindByUsername", mock.Anything, "bob").Return(nil, gorm.ErrRecordNotFound)
	repo.On("Update", mock.Anything, existing).Return(nil)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(u *model.User) bool {
		return u.Username == "bob" && u.Active && u.Role == model.RoleOperador
	})).Return(nil)

	created, updated, err := seedUsers(context.Background(), repo, []SeedUser{
		{Username: "alice", Name: "Alice", Password: "secret", Role: model.RoleAdmin},
		{Username: "bob", Name: "Bob", Password: "pw", Role: model.RoleOperador},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, updated)
	assert.Equal(t, model.RoleAdmin, existing.Role)
	assert.True(t, existing.Active)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte("secret")))
	repo.AssertExpectations(t)
}
