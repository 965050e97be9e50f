package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with helpers for attaching request-scoped fields.
type Logger struct {
	*slog.Logger
}

// NewLogger returns a text logger at debug level for development and a JSON
// logger at info level otherwise.
func NewLogger(isDevelopment bool) *Logger {
	return NewLoggerWithWriter(os.Stdout, isDevelopment)
}

// NewLoggerWithWriter is NewLogger with an explicit destination. The JSON
// logger masks credential attributes; the development logger prints them so
// codes can be read off the console.
func NewLoggerWithWriter(w io.Writer, isDevelopment bool) *Logger {
	if isDevelopment {
		return &Logger{slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	}
	return &Logger{slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		AddSource:   true,
		ReplaceAttr: maskSecrets,
	}))}
}

// NewNopLogger discards everything. Useful in tests.
func NewNopLogger() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithFields returns a child logger carrying the given key/value pairs
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{l.Logger.With(args...)}
}

// secretKeys are attribute names whose values never reach production logs.
var secretKeys = map[string]bool{
	"password":      true,
	"newpassword":   true,
	"new_password":  true,
	"otp":           true,
	"accesstoken":   true,
	"access_token":  true,
	"refreshtoken":  true,
	"refresh_token": true,
	"authorization": true,
}

func maskSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}
