package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"fleetdesk/internal/apiclient"
	"fleetdesk/internal/cache"
	"fleetdesk/internal/config"
	"fleetdesk/internal/credstore"
	"fleetdesk/internal/guard"
	"fleetdesk/internal/handler"
	"fleetdesk/internal/idle"
	"fleetdesk/internal/logging"
	"fleetdesk/internal/realtime"
	"fleetdesk/internal/router"
	"fleetdesk/internal/session"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "fleetdesk-shell")

	if err := run(cfg, logger); err != nil {
		logger.Error("shell stopped", "error", err)
		os.Exit(1)
	}
}

// run serves the shell until an interrupt. Cleanup is deferred here so it
// also runs on error.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cacheClient.Close()
	if err := cacheClient.Ping(ctx); err != nil {
		// the store degrades to "no stored session" while Redis is down
		logger.Warn("credential store unreachable", "addr", cfg.RedisAddr, "error", err)
	}
	store := credstore.NewRedisStore(cacheClient, cfg.Shell.StoreNamespace)

	api := apiclient.New(cfg.Shell.APIBaseURL, cfg.Shell.APITimeout, apiclient.WithLogger(logger))

	state := session.New(store, api,
		session.WithInvalidator(api),
		session.WithValidator(api),
		session.WithExpiryDays(cfg.Shell.CookieExpiryDays),
		session.WithLogger(logger),
	)

	monitor := idle.New(cfg.Shell.IdleTimeout, func() {
		logger.Info("session expired after inactivity", "timeout", cfg.Shell.IdleTimeout)
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.Shell.APITimeout)
		defer cancel()
		if err := state.Logout(logoutCtx); err != nil {
			logger.Warn("logout after inactivity", "error", err)
		}
	}, idle.WithSignals(cfg.Shell.ActivitySignals...), idle.WithLogger(logger))

	hub := realtime.NewHub(logger, func(name string) {
		monitor.Signal(name)
	})
	go hub.Run(ctx)

	unfollow := hub.Follow(state)
	defer unfollow()
	unbind := idle.Bind(state, monitor)
	defer unbind()

	snap := state.InitializeAuth(ctx)
	logger.Info("auth state initialized", "phase", snap.Phase().String())
	if snap.IsAuthenticated() && cfg.Shell.RevalidateOnStart {
		if err := state.Revalidate(ctx); err != nil {
			logger.Warn("startup revalidation failed, keeping stored session", "error", err)
		}
	}

	routeGuard := guard.NewRouteGuard(state, cfg.Shell.LoginPath)
	mount := routeGuard.Mount(hub)
	defer mount.Unmount()

	sessionHandler := handler.NewSessionHandler(state, monitor, hub, api, credstore.CookieOptions{
		Secure:     cfg.Shell.CookieSecure,
		ExpiryDays: cfg.Shell.CookieExpiryDays,
	}, cfg.Shell.HomePath)

	e := echo.New()
	e.HideBanner = true
	if err := router.RegisterShell(e, router.Shell{
		Config:   cfg.Shell,
		State:    state,
		Guard:    routeGuard,
		Sessions: sessionHandler,
		Logger:   logger,
	}); err != nil {
		return fmt.Errorf("router init: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		addr := "127.0.0.1:" + cfg.Shell.ServerPort
		logger.Info("shell listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	return nil
}
