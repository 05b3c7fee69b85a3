package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/shift-compliance/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps errors to a stable logging label.
func ErrorKind(err error) string {
	return string(KindOf(err))
}

// logOutcome writes the single completion record for an operation. Input and
// business conflict kinds log at WARN since they are expected outcomes.
func logOutcome(ctx context.Context, logger *slog.Logger, started time.Time, err error, success string, attrs ...any) {
	pairs := append([]any{"duration_ms", time.Since(started).Milliseconds()}, attrs...)
	if err == nil {
		logger.InfoContext(ctx, success, pairs...)
		return
	}
	kind := KindOf(err)
	pairs = append(pairs, "error", err, "error_kind", string(kind))
	switch kind.Category() {
	case CategoryInput, CategoryAuthorization, CategoryConflict:
		logger.WarnContext(ctx, "operation rejected", pairs...)
	default:
		logger.ErrorContext(ctx, "operation failed", pairs...)
	}
}
