package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/application"
	"github.com/example/shift-compliance/internal/clock"
)

var (
	errBadRequestBody   = errors.New("the request body is not valid JSON")
	errMissingPrincipal = errors.New("the X-User-ID header is required")
	errAdminRequired    = &application.Error{Kind: application.KindForbidden, Message: "administrator privileges are required"}
)

type responder struct {
	logger *slog.Logger
	loc    *time.Location
}

func newResponder(logger *slog.Logger, loc *time.Location) responder {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc, _ = clock.LoadLocation("")
	}
	return responder{logger: logger, loc: loc}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError renders a transport level failure that never reached a service.
func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}
	r.writeJSON(ctx, w, status, errorResponse{Error: message})
}

// handleServiceError maps an application error to its status code and body.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := application.KindOf(err)
	status := statusForKind(kind)
	body := errorResponse{Kind: string(kind)}

	var vErr *application.ValidationError
	var appErr *application.Error
	switch {
	case errors.As(err, &vErr):
		body.Error = "the request has missing or invalid fields"
		body.Details = map[string]any{"fields": vErr.FieldErrors}
	case errors.As(err, &appErr):
		body.Error = appErr.Message
		if body.Error == "" {
			body.Error = string(appErr.Kind)
		}
		if len(appErr.Details) > 0 {
			body.Details = appErr.Details
		}
		body.Suggestion = appErr.Suggestion
	default:
		body.Error = http.StatusText(status)
	}

	logger := r.loggerFor(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err, "error_kind", string(kind))
	}
	r.writeJSON(ctx, w, status, body)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

// timestamp renders t in the presentation zone.
func (r responder) timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(r.loc).Format(time.RFC3339)
}

func (r responder) timestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := r.timestamp(*t)
	return &s
}

func statusForKind(kind application.Kind) int {
	switch kind {
	case application.KindForbidden:
		return http.StatusForbidden
	case application.KindNotFound:
		return http.StatusNotFound
	case application.KindTimeout:
		return http.StatusGatewayTimeout
	case application.KindStoreUnavailable, application.KindDeliveryFailed:
		return http.StatusServiceUnavailable
	}
	switch kind.Category() {
	case application.CategoryInput:
		return http.StatusBadRequest
	case application.CategoryAuthorization:
		return http.StatusUnprocessableEntity
	case application.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error      string         `json:"error"`
	Kind       string         `json:"kind,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}
