package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

func NewJSONLogger(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

type requestIDContextKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}

// LogError writes one classified error entry: error_code and retryable are
// always present, request_id when the context carries one. Retryable
// failures log at warn, everything else at error.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	retryable := domain.IsRetryable(err)
	fields := []any{
		"error_code", domain.ErrorCode(err),
		"retryable", retryable,
		"error", errString(err),
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if depErr, ok := domain.AsDependencyError(err); ok {
		fields = append(fields, "dependency", string(depErr.Service))
		if depErr.Code != "" {
			fields = append(fields, "dependency_code", depErr.Code)
		}
	}
	fields = append(fields, attrs...)

	level := slog.LevelError
	if retryable {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, msg, fields...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
