package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetdesk/internal/cache"
	"fleetdesk/internal/model"
	"fleetdesk/internal/repository"
)

const userCacheTTL = 5 * time.Minute

var (
	// ErrUnknownRole is returned when a user is given a role outside the closed set.
	ErrUnknownRole = errors.New("unknown role")
	// ErrPasswordRequired is returned when a user is created without a password.
	ErrPasswordRequired = errors.New("password is required")
)

// NewUser is the input of CreateUser.
type NewUser struct {
	Username string
	Name     string
	Password string
	Role     model.Role
}

// UserService exposes user administration for the authentication endpoint.
type UserService interface {
	CreateUser(ctx context.Context, in NewUser) (*model.User, error)
	GetUser(ctx context.Context, id uint) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetActive(ctx context.Context, id uint, active bool) (*model.User, error)
}

type userService struct {
	repo  repository.UserRepository
	cache *cache.Client
}

// NewUserService builds a UserService with repository and cache.
func NewUserService(repo repository.UserRepository, cache *cache.Client) UserService {
	return &userService{repo: repo, cache: cache}
}

func (s *userService) cacheKey(id uint) string {
	return fmt.Sprintf("user:%d", id)
}

func (s *userService) CreateUser(ctx context.Context, in NewUser) (*model.User, error) {
	if in.Role == "" {
		in.Role = model.RoleOperador
	}
	if !in.Role.Valid() {
		return nil, ErrUnknownRole
	}
	if in.Password == "" {
		return nil, ErrPasswordRequired
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Username:     in.Username,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         in.Role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	_ = s.cache.Delete(ctx, s.cacheKey(user.ID))
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id uint) (*model.User, error) {
	if data, _ := s.cache.Get(ctx, s.cacheKey(id)); data != nil {
		var cached cachedUser
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.toModel(), nil
		}
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(fromModel(user)); err == nil {
		_ = s.cache.Set(ctx, s.cacheKey(id), payload, userCacheTTL)
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.List(ctx)
}

// SetActive enables or disables a user. Disabled users can no longer log
// in and their outstanding tokens stop passing /me.
func (s *userService) SetActive(ctx context.Context, id uint, active bool) (*model.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Active = active
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	_ = s.cache.Delete(ctx, s.cacheKey(id))
	return user, nil
}

// cachedUser is the cache encoding of a user. model.User hides the
// password hash from JSON, so the cache never holds it.
type cachedUser struct {
	ID       uint       `json:"id"`
	Username string     `json:"username"`
	Name     string     `json:"name"`
	Role     model.Role `json:"role"`
	Active   bool       `json:"active"`
}

func fromModel(u *model.User) cachedUser {
	return cachedUser{ID: u.ID, Username: u.Username, Name: u.Name, Role: u.Role, Active: u.Active}
}

func (c cachedUser) toModel() *model.User {
	return &model.User{ID: c.ID, Username: c.Username, Name: c.Name, Role: c.Role, Active: c.Active}
}
