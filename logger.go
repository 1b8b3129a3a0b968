// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"
)

// MaxLogValueLength limits the length of log values to prevent log injection
// and excessive log file growth. Values longer than this are truncated.
const MaxLogValueLength = 1024

// Logger interface for pluggable logging support
//
// Implementations should use structured logging with key-value pairs.
// The go-pnp library provides two implementations:
//   - DefaultLogger: Wraps Go's standard log package with configurable log level
//   - NoOpLogger: Zero-overhead logging when disabled (default)
//
// Example custom logger integration:
//
//	type SlogAdapter struct {
//	    logger *slog.Logger
//	}
//
//	func (s *SlogAdapter) Debug(ctx context.Context, msg string, keysAndValues ...any) {
//	    s.logger.DebugContext(ctx, msg, keysAndValues...)
//	}
//	// ... implement other methods
//
//	client, _ := pnp.NewClient("apic-em.example.com",
//	    pnp.Username("admin"),
//	    pnp.Password("secret"),
//	    pnp.WithLogger(&SlogAdapter{logger: slog.Default()}))
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// LogLevel represents the severity threshold for logging
type LogLevel int

const (
	// LogLevelDebug enables all log levels (most verbose)
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables Info, Warn, and Error logs
	LogLevelInfo

	// LogLevelWarn enables Warn and Error logs
	LogLevelWarn

	// LogLevelError enables only Error logs
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// DefaultLogger wraps Go's standard log package with configurable log level
//
// Log output format: [LEVEL] message request_id=... key1=value1 key2=value2
//
// The request_id pair is added automatically when the context carries the
// identifier of the APIC-EM request being logged.
//
// Example:
//
//	logger := pnp.NewDefaultLogger(pnp.LogLevelDebug)
//	client, _ := pnp.NewClient("apic-em.example.com",
//	    pnp.Username("admin"),
//	    pnp.Password("secret"),
//	    pnp.WithLogger(logger))
type DefaultLogger struct {
	level LogLevel
}

// NewDefaultLogger creates a DefaultLogger with the specified log level
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return &DefaultLogger{level: level}
}

// ParseLogLevel converts a level name (debug, info, warn, warning, error, none)
// into a LogLevel. Matching is case-insensitive.
func ParseLogLevel(name string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LogLevelDebug, nil
	case "INFO":
		return LogLevelInfo, nil
	case "WARN", "WARNING":
		return LogLevelWarn, nil
	case "ERROR":
		return LogLevelError, nil
	case "NONE", "OFF":
		return LogLevelNone, nil
	default:
		return LogLevelNone, fmt.Errorf("invalid log level: %q", name)
	}
}

// Debug logs a debug message with structured key-value pairs
func (l *DefaultLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	l.log(ctx, LogLevelDebug, msg, keysAndValues)
}

// Info logs an informational message with structured key-value pairs
func (l *DefaultLogger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	l.log(ctx, LogLevelInfo, msg, keysAndValues)
}

// Warn logs a warning message with structured key-value pairs
func (l *DefaultLogger) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	l.log(ctx, LogLevelWarn, msg, keysAndValues)
}

// Error logs an error message with structured key-value pairs
func (l *DefaultLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	l.log(ctx, LogLevelError, msg, keysAndValues)
}

// log formats and outputs a log message with structured key-value pairs
//
// Keys and values are sanitized; the message is not, it always comes from this package.
func (l *DefaultLogger) log(ctx context.Context, level LogLevel, msg string, keysAndValues []any) {
	if level < l.level || l.level == LogLevelNone {
		return
	}

	var builder strings.Builder
	builder.Grow(len(msg) + 16 + len(keysAndValues)*25)

	builder.WriteString("[")
	builder.WriteString(level.String())
	builder.WriteString("] ")
	builder.WriteString(msg)

	if id := requestIDFromContext(ctx); id != "" {
		builder.WriteString(" request_id=")
		builder.WriteString(sanitizeLogValue(id))
	}

	for i := 0; i < len(keysAndValues); i += 2 {
		builder.WriteString(" ")
		builder.WriteString(sanitizeLogValue(keysAndValues[i]))
		builder.WriteString("=")
		if i+1 < len(keysAndValues) {
			builder.WriteString(sanitizeLogValue(keysAndValues[i+1]))
		} else {
			builder.WriteString("<MISSING>")
		}
	}

	log.Println(builder.String())
}

// sanitizeLogValue neutralizes control characters, ANSI escapes, RTL overrides and
// zero-width characters in a log value and truncates it to MaxLogValueLength.
//
// Values logged by this package include device host names, file names and controller
// messages, all of which are user or device supplied.
func sanitizeLogValue(val any) string {
	str := fmt.Sprintf("%v", val)

	truncated := false
	if len(str) > MaxLogValueLength {
		str = str[:MaxLogValueLength]
		truncated = true
	}

	var builder strings.Builder
	builder.Grow(len(str))

	for i := 0; i < len(str); {
		r, size := utf8.DecodeRuneInString(str[i:])
		i += size

		switch {
		case r == utf8.RuneError && size <= 1:
			builder.WriteByte('.')
		case r == 0x200B, r == 0x200C, r == 0x200D, r == 0xFEFF:
			// zero-width, dropped
		case r == 0x202E:
			builder.WriteByte(' ')
		case r == '\n', r == '\r', r == '\t', r == '\f':
			builder.WriteByte(' ')
		case r < 32 || r == 127:
			// ESC, bell, backspace and the rest of C0
			builder.WriteByte('.')
		default:
			builder.WriteRune(r)
		}
	}

	if truncated {
		builder.WriteString("...[TRUNCATED]")
	}
	return builder.String()
}

// NoOpLogger is a no-operation logger that discards all log messages
//
// This is the default logger used by go-pnp when no custom logger
// is configured.
type NoOpLogger struct{}

// Debug discards the log message
func (n *NoOpLogger) Debug(_ context.Context, _ string, _ ...any) {}

// Info discards the log message
func (n *NoOpLogger) Info(_ context.Context, _ string, _ ...any) {}

// Warn discards the log message
func (n *NoOpLogger) Warn(_ context.Context, _ string, _ ...any) {}

// Error discards the log message
func (n *NoOpLogger) Error(_ context.Context, _ string, _ ...any) {}

type requestIDKey struct{}

// withRequestID returns a context carrying the APIC-EM request identifier
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// requestIDFromContext returns the request identifier stored by withRequestID
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
