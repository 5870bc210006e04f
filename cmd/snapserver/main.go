package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Atheer-Ganayem/snapserver"
	"github.com/Atheer-Ganayem/snapserver/internal/admin"
)

func main() {
	// Get configuration from environment
	wsAddr := getEnv("WS_ADDR", "0.0.0.0")
	wsPort := getEnvInt("WS_PORT", 8080)
	adminAddr := getEnv("ADMIN_ADDR", ":9090")
	rateLimit := getEnvInt("WS_RATE", 0)
	burst := getEnvInt("WS_BURST", rateLimit)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(getEnv("LOG_LEVEL", "info")),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := snapserver.DefaultRegistry()

	var limiter *snapserver.RateLimiter
	if rateLimit > 0 {
		limiter = snapserver.NewRateLimiter(rateLimit, burst)
		limiter.OnRateLimitHit = func(s *snapserver.Session) error {
			return s.SendString(context.TODO(), "rate limited, slow down")
		}
	}

	// every listener of this process echoes
	options := func() *snapserver.Options {
		return &snapserver.Options{
			Logger:   logger,
			Registry: registry,
			Limiter:  limiter,
			OnText: func(s *snapserver.Session, text string) {
				if err := s.SendString(context.TODO(), text); err != nil && !snapserver.IsFatalErr(err) {
					logger.Warn("echo failed", "session", s.ID, "error", err)
				}
			},
			OnException: func(s *snapserver.Session, err error) {
				logger.Debug("session error", "session", s.ID, "error", err)
			},
		}
	}

	l, err := snapserver.NewListener(wsAddr, wsPort, options())
	if err != nil {
		logger.Error("invalid listener configuration", "error", err)
		os.Exit(1)
	}
	if err := l.Listen(); err != nil {
		logger.Error("failed to bind listener", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := l.Serve(ctx); err != nil {
			logger.Error("listener failed", "error", err)
		}
	}()

	// Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	admin.NewHandler(ctx, registry, options, logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    adminAddr,
		Handler: r,
	}
	go func() {
		logger.Info("admin api listening", "addr", adminAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin api failed", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin api shutdown failed", "error", err)
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("listener shutdown failed", "error", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring invalid integer", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
