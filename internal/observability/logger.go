package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/healthchat/healthchat/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// NewLogger builds the process logger. Every line carries the service,
// profile and model provider; dev adds source locations.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.Observability.LogLevel,
		AddSource: cfg.Profile == config.ProfileDev && cfg.Observability.LogJSON,
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	attrs := []any{
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	}
	if cfg.AI.Provider != "" {
		attrs = append(attrs, slog.String("ai_provider", cfg.AI.Provider))
	}
	return slog.New(handler).With(attrs...)
}

// WithTrace returns logger annotated with the request's trace id, or logger
// itself outside a traced request.
func WithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return logger.With(slog.String("trace_id", traceID))
	}
	return logger
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
