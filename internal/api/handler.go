package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthchat/healthchat/internal/chat"
	"github.com/healthchat/healthchat/internal/config"
	"github.com/healthchat/healthchat/internal/observability"
	"github.com/healthchat/healthchat/internal/store"
)

const sessionHeader = "X-Session-ID"

type ReadinessCheck func(ctx context.Context) error

type Asker interface {
	Ask(ctx context.Context, session *chat.Session, question string) chat.Reply
}

type StoreRecreator interface {
	Recreate(ctx context.Context) (store.Report, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          Asker
	Sessions          *chat.Sessions
	Store             StoreRecreator
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	limit := RateLimiter(RateLimitConfig{
		RequestsPerSecond: cfg.HTTP.RateLimitRPS,
		Burst:             cfg.HTTP.RateLimitBurst,
	})
	mux.Handle("POST /v1/chat", limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})))
	mux.HandleFunc("GET /v1/chat/history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})
	mux.HandleFunc("GET /v1/examples", handleExamples)
	mux.HandleFunc("GET /v1/schema", handleSchema)
	mux.HandleFunc("POST /v1/store/recreate", func(w http.ResponseWriter, r *http.Request) {
		handleRecreate(deps, w, r)
	})

	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	route := routeOf(mux)
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware(route),
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger, route))
	}
	return chain(mux, middlewares...)
}

// CheckStoreFile reports not ready until the store file has been built.
func CheckStoreFile(path string) ReadinessCheck {
	return func(_ context.Context) error {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store %q has not been created", path)
		}
		if err != nil {
			return fmt.Errorf("stat store: %w", err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("store %q is empty", path)
		}
		return nil
	}
}

func CheckModelConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.AI.APIKey == "" {
			return errors.New("model api key is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// routeOf resolves the pattern the mux would dispatch r to.
func routeOf(mux *http.ServeMux) observability.RouteFunc {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
