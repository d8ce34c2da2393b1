package observability

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	traceHeader   = "X-Trace-ID"
	sessionHeader = "X-Session-ID"

	// UnmatchedRoute labels requests no registered pattern accepted.
	UnmatchedRoute = "unmatched"
)

// RouteFunc names the registered route serving r, e.g. "POST /v1/chat". It
// must return "" when nothing matches.
type RouteFunc func(r *http.Request) string

func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = newTraceID()
		}
		ctx := ContextWithTraceID(r.Context(), traceID)
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware writes one line per request with the matched route and,
// for chat requests, the session the handler assigned.
func LoggingMiddleware(logger *slog.Logger, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", routeLabel(route, r)),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", recorder.status),
				slog.String("duration", time.Since(start).String()),
				slog.Int("bytes", recorder.bytes),
			}
			if sessionID := recorder.Header().Get(sessionHeader); sessionID != "" {
				attrs = append(attrs, slog.String("session_id", sessionID))
			}
			WithTrace(r.Context(), logger).LogAttrs(r.Context(), slog.LevelInfo, "http_request", attrs...)
		})
	}
}

// MetricsMiddleware labels by route pattern, never by raw path, so the UI
// catch-all cannot mint a series per URL.
func MetricsMiddleware(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			label := routeLabel(route, r)
			status := strconv.Itoa(recorder.status)
			httpRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
			httpRequestDurationSeconds.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(route RouteFunc, r *http.Request) string {
	if route != nil {
		if pattern := route(r); pattern != "" {
			return pattern
		}
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	return UnmatchedRoute
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(body []byte) (int, error) {
	n, err := r.ResponseWriter.Write(body)
	r.bytes += n
	return n, err
}

func newTraceID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
