package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"fleetdesk/internal/config"
	"fleetdesk/internal/db"
	"fleetdesk/internal/logging"
	"fleetdesk/internal/model"
	"fleetdesk/internal/repository"
	"fleetdesk/internal/service"
)

// SeedUser is one entry of the users file.
type SeedUser struct {
	Username string     `yaml:"username"`
	Name     string     `yaml:"name"`
	Password string     `yaml:"password"`
	Role     model.Role `yaml:"role"`
	Active   *bool      `yaml:"active"`
}

type usersFile struct {
	Users []SeedUser `yaml:"users"`
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "fleetdesk-seed")

	path := cfg.AuthAPI.UsersFile
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	users, err := loadUsers(path)
	if err != nil {
		logger.Error("read users file", "path", path, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded users file", "path", path, "users", len(users))

	gormDB, err := db.NewMySQL(cfg.AuthAPI.MySQLDSN)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(gormDB); err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}

	repo := repository.NewUserRepository(gormDB)
	created, updated, err := seedUsers(context.Background(), repo, users)
	if err != nil {
		logger.Error("seed users", "error", err)
		os.Exit(1)
	}

	logger.Info("seed completed", "created", created, "updated", updated)
}

// loadUsers parses the users file and rejects entries that cannot log in.
func loadUsers(path string) ([]SeedUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseUsers(data)
}

func parseUsers(data []byte) ([]SeedUser, error) {
	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return nil, fmt.Errorf("parse users: %w", err)
	}
	for i, u := range uf.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("user %d: username and password are required", i)
		}
		if u.Role == "" {
			uf.Users[i].Role = model.RoleOperador
		} else if !u.Role.Valid() {
			return nil, fmt.Errorf("user %q: unknown role %q", u.Username, u.Role)
		}
		if u.Name == "" {
			uf.Users[i].Name = u.Username
		}
	}
	return uf.Users, nil
}

// seedUsers creates missing users and refreshes existing ones by username.
func seedUsers(ctx context.Context, repo repository.UserRepository, users []SeedUser) (created int, updated int, err error) {
	for _, u := range users {
		hash, err := service.HashPassword(u.Password)
		if err != nil {
			return created, updated, err
		}
		active := true
		if u.Active != nil {
			active = *u.Active
		}

		existing, err := repo.FindByUsername(ctx, u.Username)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, updated, fmt.Errorf("error checking user %s: %w", u.Username, err)
		}

		if existing != nil {
			existing.Name = u.Name
			existing.PasswordHash = hash
			existing.Role = u.Role
			existing.Active = active
			if err := repo.Update(ctx, existing); err != nil {
				return created, updated, fmt.Errorf("error updating user %s: %w", u.Username, err)
			}
			updated++
			continue
		}

		if err := repo.Create(ctx, &model.User{
			Username:     u.Username,
			Name:         u.Name,
			PasswordHash: hash,
			Role:         u.Role,
			Active:       active,
		}); err != nil {
			return created, updated, fmt.Errorf("error creating user %s: %w", u.Username, err)
		}
		created++
	}
	return created, updated, nil
}
