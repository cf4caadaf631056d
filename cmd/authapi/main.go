package main

import (
	"errors"
	"net/http"
	"os"
	"strings"

	_ "fleetdesk/docs" // swagger docs

	"github.com/labstack/echo/v4"

	"fleetdesk/internal/auth"
	"fleetdesk/internal/cache"
	"fleetdesk/internal/config"
	"fleetdesk/internal/db"
	"fleetdesk/internal/handler"
	"fleetdesk/internal/logging"
	"fleetdesk/internal/model"
	"fleetdesk/internal/repository"
	"fleetdesk/internal/router"
	"fleetdesk/internal/service"
)

// @title FleetDesk Auth API
// @version 1.0
// @description Authentication endpoint and user administration for the FleetDesk back-office.
// @host localhost:5000
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "fleetdesk-authapi")

	gormDB, err := db.NewMySQL(cfg.AuthAPI.MySQLDSN)
	if err != nil {
		logger.Error("database init", "error", err)
		os.Exit(1)
	}

	// Drop tables if RESET_DB environment variable is set
	if os.Getenv("RESET_DB") == "true" {
		logger.Warn("RESET_DB=true detected, dropping users table")
		if err := gormDB.Migrator().DropTable(&model.User{}); err != nil {
			logger.Warn("drop table failed (may not exist)", "error", err)
		}
	}

	if err := db.Migrate(gormDB); err != nil {
		logger.Error("auto-migrate", "error", err)
		os.Exit(1)
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cacheClient.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(gormDB)

	// Initialize auth components
	jwtService := auth.NewJWTService(cfg.AuthAPI.JWTSecret, cfg.AuthAPI.AccessTokenTTL)
	tokenStore := auth.NewTokenStore(cacheClient)

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtService, tokenStore)
	userService := service.NewUserService(userRepo, cacheClient)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)

	e := echo.New()
	e.HideBanner = true

	// Register routes
	router.RegisterAuthAPI(e, authService, authHandler, userHandler)

	logger.Info("swagger documentation available", "url", swaggerURL(cfg.AuthAPI.SwaggerHost))

	addr := ":" + cfg.AuthAPI.ServerPort
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server start", "error", err)
		os.Exit(1)
	}
}

// swaggerURL builds the docs URL; host may already include a scheme.
func swaggerURL(host string) string {
	if host == "" {
		return "http://localhost:5000/swagger/index.html"
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host + "/swagger/index.html"
	}
	return "http://" + host + "/swagger/index.html"
}
