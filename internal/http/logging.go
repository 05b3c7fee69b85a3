package http

import (
	"context"
	"log/slog"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// handlerLogger scopes the request logger to one handler operation. Outside
// RequestLogger it falls back to the handler's own logger and tags the request
// id itself.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	pairs := append([]any{"handler", handlerName, "operation", operation}, attrs...)
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger.With(pairs...)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		pairs = append(pairs, "request_id", id)
	}
	return defaultLogger(fallback).With(pairs...)
}
