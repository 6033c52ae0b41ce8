package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger wraps slog.Logger with checkout-specific helpers.
type Logger struct {
	*slog.Logger
}

// New builds a logger from LOG_LEVEL. Text output in gin debug mode, JSON otherwise.
func New() *Logger {
	return NewWithLevel(os.Getenv("LOG_LEVEL"))
}

func NewWithLevel(level string) *Logger {
	return newLogger(os.Stdout, ParseLevel(level), gin.Mode() == gin.DebugMode)
}

func newLogger(w io.Writer, level slog.Level, text bool) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard drops everything; used by tests and library defaults.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
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

func (l *Logger) WithSessionID(sessionID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("session_id", sessionID))}
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("request_id", requestID))}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error()))}
}

// LogHTTPRequest logs a finished gin request.
func (l *Logger) LogHTTPRequest(c *gin.Context, duration time.Duration) {
	l.Logger.InfoContext(c.Request.Context(),
		"HTTP Request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", duration),
		slog.String("ip", c.ClientIP()),
	)
}

func (l *Logger) LogSeatConflict(ctx context.Context, sessionID, seatID string) {
	l.Logger.WarnContext(ctx,
		"Seat Conflict",
		slog.String("session_id", sessionID),
		slog.String("seat_id", seatID),
	)
}

func (l *Logger) LogSeatsExpired(ctx context.Context, sessionID string, count int) {
	l.Logger.InfoContext(ctx,
		"Seat Selection Expired",
		slog.String("session_id", sessionID),
		slog.Int("seats", count),
	)
}

func (l *Logger) LogSessionSaveFailed(ctx context.Context, sessionID string, err error) {
	l.Logger.WarnContext(ctx,
		"Session Save Failed",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}

func (l *Logger) LogBookingConfirmed(ctx context.Context, reference, sessionID string, totalCents int64) {
	l.Logger.InfoContext(ctx,
		"Booking Confirmed",
		slog.String("booking_reference", reference),
		slog.String("session_id", sessionID),
		slog.Int64("total_cents", totalCents),
	)
}

func (l *Logger) LogBookingCancelled(ctx context.Context, reference string) {
	l.Logger.InfoContext(ctx,
		"Booking Cancelled",
		slog.String("booking_reference", reference),
	)
}

// LogAuthFailure logs a rejected bearer token.
func (l *Logger) LogAuthFailure(ctx context.Context, reason, ip string) {
	l.Logger.WarnContext(ctx,
		"Authentication Failure",
		slog.String("reason", reason),
		slog.String("ip", ip),
	)
}

var defaultLogger = New()

func GetDefault() *Logger {
	return defaultLogger
}

func SetDefault(logger *Logger) {
	defaultLogger = logger
}
