package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/application"
)

type complianceMonitor interface {
	Check(ctx context.Context, shiftID string) (application.ComplianceResult, error)
	RunSweep(ctx context.Context) (application.SweepReport, error)
	DailySummary(ctx context.Context, date string) (application.DailySummary, error)
}

// ComplianceHandler exposes the administrative compliance operations.
type ComplianceHandler struct {
	monitor   complianceMonitor
	responder responder
	logger    *slog.Logger
}

func NewComplianceHandler(monitor complianceMonitor, loc *time.Location, logger *slog.Logger) *ComplianceHandler {
	base := defaultLogger(logger)
	return &ComplianceHandler{monitor: monitor, responder: newResponder(base, loc), logger: base}
}

func requireAdmin(r *http.Request) error {
	principal, _ := PrincipalFromContext(r.Context())
	if !principal.IsAdmin {
		return errAdminRequired
	}
	return nil
}

func (h *ComplianceHandler) Check(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	result, err := h.monitor.Check(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.verdict(result))
}

func (h *ComplianceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	report, err := h.monitor.RunSweep(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	handlerLogger(r.Context(), h.logger, "ComplianceHandler", "Sweep",
		"evaluated", report.Evaluated,
		"failures", report.Failures,
	).InfoContext(r.Context(), "manual sweep finished")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.sweep(report))
}

// DailySummary handles GET /compliance/daily-summary?date=YYYY-MM-DD.
func (h *ComplianceHandler) DailySummary(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	summary, err := h.monitor.DailySummary(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSummaryDTO(summary))
}
