package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/shift-compliance/internal/application"
)

// PrincipalHeader names the header carrying the acting user id. Identity is
// established upstream; this service only resolves the id against the directory.
const PrincipalHeader = "X-User-ID"

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

type PrincipalResolver interface {
	Principal(ctx context.Context, userID string) (application.Principal, error)
}

// RequirePrincipal resolves the X-User-ID header into an application.Principal.
func RequirePrincipal(resolver PrincipalResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			responder := newResponder(logger, nil)
			userID := strings.TrimSpace(r.Header.Get(PrincipalHeader))
			if userID == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingPrincipal)
				return
			}

			principal, err := resolver.Principal(r.Context(), userID)
			if err != nil {
				responder.handleServiceError(r.Context(), w, err)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			if l := LoggerFromContext(ctx); l != nil {
				ctx = ContextWithLogger(ctx, l.With("principal_id", principal.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// RequestLogger attaches a request scoped logger and logs one completion record.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithRequestID(ContextWithLogger(r.Context(), logger), id)
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.InfoContext(ctx, "request completed",
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Timeout bounds every request context by d. Store operations observe the
// deadline and surface it as a timeout error.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
