package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/application"
	"github.com/example/shift-compliance/internal/persistence"
)

type coursePlanner interface {
	Create(ctx context.Context, principal application.Principal, input application.CourseInput) (persistence.Course, error)
	Update(ctx context.Context, principal application.Principal, courseID string, patch application.CoursePatch) (persistence.Course, error)
	Delete(ctx context.Context, principal application.Principal, courseID string) error
	Get(ctx context.Context, courseID string) (persistence.Course, error)
	List(ctx context.Context, query application.CourseQuery) (application.Page[persistence.Course], error)
	History(ctx context.Context, courseID string) ([]persistence.CourseHistoryEntry, error)
}

type CourseHandler struct {
	planner   coursePlanner
	responder responder
	logger    *slog.Logger
}

func NewCourseHandler(planner coursePlanner, loc *time.Location, logger *slog.Logger) *CourseHandler {
	base := defaultLogger(logger)
	return &CourseHandler{planner: planner, responder: newResponder(base, loc), logger: base}
}

type courseRequest struct {
	Name        string `json:"name" validate:"required,notblank,max=200"`
	Description string `json:"description" validate:"max=2000"`
	RoomID      string `json:"room_id" validate:"required,notblank"`
	ShiftID     string `json:"shift_id" validate:"required,notblank"`
	Start       string `json:"start" validate:"required"`
	End         string `json:"end" validate:"required"`
}

type coursePatchRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Description *string `json:"description"`
	RoomID      *string `json:"room_id"`
	ShiftID     *string `json:"shift_id"`
	Start       *string `json:"start"`
	End         *string `json:"end"`
	Status      *string `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
}

func (h *CourseHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req courseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}
	start, err := parseInstant("start", req.Start, h.responder.loc)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	end, err := parseInstant("end", req.End, h.responder.loc)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	course, err := h.planner.Create(r.Context(), principal, application.CourseInput{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		RoomID:      strings.TrimSpace(req.RoomID),
		ShiftID:     strings.TrimSpace(req.ShiftID),
		Start:       start,
		End:         end,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	handlerLogger(r.Context(), h.logger, "CourseHandler", "Create", "course_id", course.ID).
		DebugContext(r.Context(), "course created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, h.responder.course(course))
}

func (h *CourseHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req coursePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}
	start, err := parseOptionalInstant("start", req.Start, h.responder.loc)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	end, err := parseOptionalInstant("end", req.End, h.responder.loc)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	patch := application.CoursePatch{
		Name:        trimmed(req.Name),
		Description: req.Description,
		RoomID:      trimmed(req.RoomID),
		ShiftID:     trimmed(req.ShiftID),
		Start:       start,
		End:         end,
	}
	if req.Status != nil {
		status := persistence.CourseStatus(*req.Status)
		patch.Status = &status
	}

	course, err := h.planner.Update(r.Context(), principal, r.PathValue("id"), patch)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.course(course))
}

func (h *CourseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.planner.Delete(r.Context(), principal, r.PathValue("id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	course, err := h.planner.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.course(course))
}

func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	result, err := h.planner.List(r.Context(), application.CourseQuery{
		RoomID:   strings.TrimSpace(q.Get("room")),
		ShiftID:  strings.TrimSpace(q.Get("shift")),
		Status:   persistence.CourseStatus(strings.TrimSpace(q.Get("status"))),
		DateFrom: strings.TrimSpace(q.Get("date_from")),
		DateTo:   strings.TrimSpace(q.Get("date_to")),
		Page:     page,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, application.MapPage(result, h.responder.course))
}

func (h *CourseHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.planner.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]historyDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.responder.history(e))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"results": out})
}
