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

type shiftService interface {
	Create(ctx context.Context, principal application.Principal, input application.ShiftInput) (persistence.Shift, error)
	Update(ctx context.Context, principal application.Principal, shiftID string, patch application.ShiftPatch) (persistence.Shift, error)
	Cancel(ctx context.Context, principal application.Principal, shiftID string) (persistence.Shift, error)
	Delete(ctx context.Context, principal application.Principal, shiftID string) error
	Get(ctx context.Context, shiftID string) (persistence.Shift, error)
	List(ctx context.Context, query application.ShiftQuery) (application.Page[persistence.Shift], error)
	Upcoming(ctx context.Context, userID, roomID string, page application.PageRequest) (application.Page[persistence.Shift], error)
	Current(ctx context.Context, userID, roomID string) ([]persistence.Shift, error)
}

type ShiftHandler struct {
	service   shiftService
	responder responder
	logger    *slog.Logger
}

func NewShiftHandler(service shiftService, loc *time.Location, logger *slog.Logger) *ShiftHandler {
	base := defaultLogger(logger)
	return &ShiftHandler{service: service, responder: newResponder(base, loc), logger: base}
}

func (h *ShiftHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "ShiftHandler", operation, attrs...)
}

type shiftRequest struct {
	UserID    string `json:"user_id" validate:"required,notblank"`
	RoomID    string `json:"room_id" validate:"required,notblank"`
	Start     string `json:"start" validate:"required"`
	End       string `json:"end" validate:"required"`
	Recurring bool   `json:"recurring"`
	Notes     string `json:"notes" validate:"max=2000"`
}

type shiftPatchRequest struct {
	UserID    *string `json:"user_id"`
	RoomID    *string `json:"room_id"`
	Start     *string `json:"start"`
	End       *string `json:"end"`
	Status    *string `json:"status" validate:"omitempty,oneof=active completed cancelled"`
	Recurring *bool   `json:"recurring"`
	Notes     *string `json:"notes"`
}

func (h *ShiftHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req shiftRequest
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

	shift, err := h.service.Create(r.Context(), principal, application.ShiftInput{
		UserID:    strings.TrimSpace(req.UserID),
		RoomID:    strings.TrimSpace(req.RoomID),
		Start:     start,
		End:       end,
		Recurring: req.Recurring,
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Create", "shift_id", shift.ID).DebugContext(r.Context(), "shift created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, h.responder.shift(shift))
}

func (h *ShiftHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	shiftID := r.PathValue("id")

	var req shiftPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}
	patch, err := req.toPatch(h.responder.loc)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	shift, err := h.service.Update(r.Context(), principal, shiftID, patch)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.shift(shift))
}

func (req shiftPatchRequest) toPatch(loc *time.Location) (application.ShiftPatch, error) {
	start, err := parseOptionalInstant("start", req.Start, loc)
	if err != nil {
		return application.ShiftPatch{}, err
	}
	end, err := parseOptionalInstant("end", req.End, loc)
	if err != nil {
		return application.ShiftPatch{}, err
	}
	patch := application.ShiftPatch{
		UserID:    trimmed(req.UserID),
		RoomID:    trimmed(req.RoomID),
		Start:     start,
		End:       end,
		Recurring: req.Recurring,
		Notes:     req.Notes,
	}
	if req.Status != nil {
		status := persistence.ShiftStatus(*req.Status)
		patch.Status = &status
	}
	return patch, nil
}

func (h *ShiftHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	shift, err := h.service.Cancel(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.shift(shift))
}

func (h *ShiftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), principal, r.PathValue("id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ShiftHandler) Get(w http.ResponseWriter, r *http.Request) {
	shift, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.shift(shift))
}

// List handles GET /shifts?user=&room=&status=&date_from=&date_to=&page=&page_size=.
func (h *ShiftHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	result, err := h.service.List(r.Context(), application.ShiftQuery{
		UserID:   strings.TrimSpace(q.Get("user")),
		RoomID:   strings.TrimSpace(q.Get("room")),
		Status:   persistence.ShiftStatus(strings.TrimSpace(q.Get("status"))),
		DateFrom: strings.TrimSpace(q.Get("date_from")),
		DateTo:   strings.TrimSpace(q.Get("date_to")),
		Page:     page,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, application.MapPage(result, h.responder.shift))
}

func (h *ShiftHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	result, err := h.service.Upcoming(r.Context(), strings.TrimSpace(q.Get("user")), strings.TrimSpace(q.Get("room")), page)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, application.MapPage(result, h.responder.shift))
}

func (h *ShiftHandler) Current(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.Current(r.Context(), strings.TrimSpace(q.Get("user")), strings.TrimSpace(q.Get("room")))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]shiftDTO, 0, len(rows))
	for _, s := range rows {
		out = append(out, h.responder.shift(s))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"results": out})
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}
