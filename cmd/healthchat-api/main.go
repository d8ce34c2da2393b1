package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/healthchat/healthchat/internal/api"
	"github.com/healthchat/healthchat/internal/api/uistatic"
	"github.com/healthchat/healthchat/internal/app"
	"github.com/healthchat/healthchat/internal/chat"
	"github.com/healthchat/healthchat/internal/config"
	"github.com/healthchat/healthchat/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("healthchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", slog.Any("error", err))
		os.Exit(1)
	}

	if budget := cfg.TurnBudget(); cfg.HTTP.WriteTimeout < budget {
		logger.Warn("http write timeout is shorter than the worst-case chat turn",
			slog.String("write_timeout", cfg.HTTP.WriteTimeout.String()),
			slog.String("turn_budget", budget.String()),
		)
	}

	sessions := chat.NewSessions(
		chat.WithIdleTTL(cfg.HTTP.SessionIdleTTL),
		chat.WithMaxSessions(cfg.HTTP.MaxSessions),
	)
	deps := api.Dependencies{
		Logger:   logger,
		Pipeline: application.Pipeline,
		Sessions: sessions,
		Store:    application.Store,
		UI:       uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckStoreFile(cfg.Store.Path),
			api.CheckModelConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("model", application.ModelName),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
