// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with the outreach-specific helpers below.
type Logger struct {
	*slog.Logger
}

// New builds a text logger at debug level for development and a JSON logger
// at info level everywhere else.
func New(env string) *Logger {
	if strings.EqualFold(env, "development") {
		return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

// NewNop returns a logger that discards everything. Used by tests and CLIs.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.With(slog.String(key, value))}
}

func (l *Logger) WithRequestID(requestID string) *Logger { return l.with("request_id", requestID) }

// WithLead scopes every line to one lead.
func (l *Logger) WithLead(leadID string) *Logger { return l.with("lead_id", leadID) }

// WithCall scopes every line to one provider call.
func (l *Logger) WithCall(externalCallID string) *Logger {
	return l.with("external_call_id", externalCallID)
}

// HTTPRequest logs one served request. Server errors go out at error level.
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	l.Log(context.Background(), level, "http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// PollerTick logs the outcome of one periodic job run. Idle ticks are debug.
func (l *Logger) PollerTick(job string, processed int, durationMs float64) {
	if processed == 0 {
		l.Debug("poller_tick",
			slog.String("job", job),
			slog.Float64("duration_ms", durationMs),
		)
		return
	}
	l.Info("poller_tick",
		slog.String("job", job),
		slog.Int("processed", processed),
		slog.Float64("duration_ms", durationMs),
	)
}

// RateLimitExceeded logs a rejected webhook or API call.
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
