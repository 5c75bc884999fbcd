// Package logutil provides unified logging with support for structured
// output, log levels, and correlation IDs carried on the context.
//
// The package exposes LoggerInterface so that every component can accept a
// logger without binding to a concrete implementation. SlogLogger is the
// production implementation, backed by log/slog with a JSON or text handler.
package logutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

// CorrelationIDKey is the context key for correlation ID
const CorrelationIDKey ContextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context. An existing ID is
// preserved unless an explicit replacement is supplied.
func WithCorrelationID(ctx context.Context, id ...string) context.Context {
	if existing := GetCorrelationID(ctx); existing != "" {
		if len(id) == 0 || id[0] == "" {
			return ctx
		}
	}
	if len(id) > 0 && id[0] != "" {
		return context.WithValue(ctx, CorrelationIDKey, id[0])
	}
	return context.WithValue(ctx, CorrelationIDKey, uuid.New().String())
}

// GetCorrelationID retrieves the correlation ID from the context, or ""
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// DebugLevel is for detailed troubleshooting information
	DebugLevel LogLevel = iota
	// InfoLevel is for general operational information
	InfoLevel
	// WarnLevel is for potentially harmful situations
	WarnLevel
	// ErrorLevel is for errors that should be investigated
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLogLevel converts a string to a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LoggerInterface defines the common logging interface used across the
// codebase. Formatting follows fmt.Printf conventions. The *Context variants
// attach the context's correlation ID to the emitted record.
type LoggerInterface interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	DebugContext(ctx context.Context, format string, args ...interface{})
	InfoContext(ctx context.Context, format string, args ...interface{})
	WarnContext(ctx context.Context, format string, args ...interface{})
	ErrorContext(ctx context.Context, format string, args ...interface{})

	// WithContext returns a logger that stamps every record with the
	// context's correlation ID without requiring the *Context variants.
	WithContext(ctx context.Context) LoggerInterface
}

// SlogLogger implements LoggerInterface using log/slog
type SlogLogger struct {
	logger *slog.Logger
	level  LogLevel
	ctx    context.Context
}

// NewSlogLogger creates a logger writing text records to w at the given level
func NewSlogLogger(w io.Writer, level LogLevel) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
	return &SlogLogger{logger: slog.New(handler), level: level}
}

// NewSlogLoggerJSON creates a logger writing JSON records to w at the given level
func NewSlogLoggerJSON(w io.Writer, level LogLevel) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
	return &SlogLogger{logger: slog.New(handler), level: level}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *SlogLogger) log(ctx context.Context, level slog.Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	attrs := []any{}
	if ctx == nil {
		ctx = s.ctx
	}
	if id := GetCorrelationID(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}

// Debug logs a message at debug level
func (s *SlogLogger) Debug(format string, args ...interface{}) {
	s.log(nil, slog.LevelDebug, format, args...)
}

// Info logs a message at info level
func (s *SlogLogger) Info(format string, args ...interface{}) {
	s.log(nil, slog.LevelInfo, format, args...)
}

// Warn logs a message at warn level
func (s *SlogLogger) Warn(format string, args ...interface{}) {
	s.log(nil, slog.LevelWarn, format, args...)
}

// Error logs a message at error level
func (s *SlogLogger) Error(format string, args ...interface{}) {
	s.log(nil, slog.LevelError, format, args...)
}

// DebugContext logs a message at debug level with the context's correlation ID
func (s *SlogLogger) DebugContext(ctx context.Context, format string, args ...interface{}) {
	s.log(ctx, slog.LevelDebug, format, args...)
}

// InfoContext logs a message at info level with the context's correlation ID
func (s *SlogLogger) InfoContext(ctx context.Context, format string, args ...interface{}) {
	s.log(ctx, slog.LevelInfo, format, args...)
}

// WarnContext logs a message at warn level with the context's correlation ID
func (s *SlogLogger) WarnContext(ctx context.Context, format string, args ...interface{}) {
	s.log(ctx, slog.LevelWarn, format, args...)
}

// ErrorContext logs a message at error level with the context's correlation ID
func (s *SlogLogger) ErrorContext(ctx context.Context, format string, args ...interface{}) {
	s.log(ctx, slog.LevelError, format, args...)
}

// WithContext returns a copy of the logger bound to ctx
func (s *SlogLogger) WithContext(ctx context.Context) LoggerInterface {
	clone := *s
	clone.ctx = ctx
	return &clone
}

// BufferLogger is a test logger that records formatted messages in memory.
// It is safe for concurrent use.
type BufferLogger struct {
	mu       sync.Mutex
	Messages []string
}

// NewBufferLogger creates an empty BufferLogger
func NewBufferLogger() *BufferLogger { return &BufferLogger{} }

func (b *BufferLogger) append(level, format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Messages = append(b.Messages, level+": "+fmt.Sprintf(format, args...))
}

// Debug records a debug message
func (b *BufferLogger) Debug(format string, args ...interface{}) { b.append("debug", format, args...) }

// Info records an info message
func (b *BufferLogger) Info(format string, args ...interface{}) { b.append("info", format, args...) }

// Warn records a warn message
func (b *BufferLogger) Warn(format string, args ...interface{}) { b.append("warn", format, args...) }

// Error records an error message
func (b *BufferLogger) Error(format string, args ...interface{}) { b.append("error", format, args...) }

// DebugContext records a debug message, ignoring the context
func (b *BufferLogger) DebugContext(_ context.Context, format string, args ...interface{}) {
	b.append("debug", format, args...)
}

// InfoContext records an info message, ignoring the context
func (b *BufferLogger) InfoContext(_ context.Context, format string, args ...interface{}) {
	b.append("info", format, args...)
}

// WarnContext records a warn message, ignoring the context
func (b *BufferLogger) WarnContext(_ context.Context, format string, args ...interface{}) {
	b.append("warn", format, args...)
}

// ErrorContext records an error message, ignoring the context
func (b *BufferLogger) ErrorContext(_ context.Context, format string, args ...interface{}) {
	b.append("error", format, args...)
}

// WithContext returns the logger unchanged
func (b *BufferLogger) WithContext(_ context.Context) LoggerInterface { return b }

// Contains reports whether any recorded message contains substr
func (b *BufferLogger) Contains(substr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.Messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
