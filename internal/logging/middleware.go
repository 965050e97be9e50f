package logging

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestFieldsKey
)

// requestFields collects attributes added while the request is served, for
// the completion line.
type requestFields struct {
	mu    sync.Mutex
	attrs []any
}

// RequestLogger puts a request-scoped logger in the context and logs one
// line per request once the handler returns. Only the path is logged:
// request bodies carry passwords and codes and are never read here.
func RequestLogger(logger *Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := &Logger{logger.With(
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote_ip", r.RemoteAddr,
			)}
			fields := &requestFields{}

			ctx := WithLogger(r.Context(), reqLogger)
			ctx = context.WithValue(ctx, requestFieldsKey, fields)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []any{
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				attrs = append(attrs, "route", rctx.RoutePattern())
			}
			fields.mu.Lock()
			attrs = append(attrs, fields.attrs...)
			fields.mu.Unlock()

			reqLogger.Log(r.Context(), levelForStatus(status), "request completed", attrs...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// AddRequestFields attaches key/value pairs to the current request. They are
// carried by the logger returned from the new context and by the request's
// completion line.
func AddRequestFields(ctx context.Context, args ...any) context.Context {
	if fields, ok := ctx.Value(requestFieldsKey).(*requestFields); ok {
		fields.mu.Lock()
		fields.attrs = append(fields.attrs, args...)
		fields.mu.Unlock()
	}
	return WithLogger(ctx, &Logger{GetLoggerFromContext(ctx).With(args...)})
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetLoggerFromContext retrieves the logger from the request context
func GetLoggerFromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(true)
}
