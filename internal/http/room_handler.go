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

type roomService interface {
	Create(ctx context.Context, principal application.Principal, input application.RoomInput) (persistence.Room, error)
	Update(ctx context.Context, principal application.Principal, roomID string, patch application.RoomPatch) (persistence.Room, error)
	Deactivate(ctx context.Context, principal application.Principal, roomID string) (persistence.Room, error)
	Delete(ctx context.Context, principal application.Principal, roomID string) (bool, error)
	Get(ctx context.Context, roomID string) (persistence.Room, error)
	List(ctx context.Context, activeOnly bool) ([]persistence.Room, error)
}

type RoomHandler struct {
	service   roomService
	responder responder
	logger    *slog.Logger
}

func NewRoomHandler(service roomService, loc *time.Location, logger *slog.Logger) *RoomHandler {
	base := defaultLogger(logger)
	return &RoomHandler{service: service, responder: newResponder(base, loc), logger: base}
}

func (h *RoomHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "RoomHandler", operation, attrs...)
}

type roomRequest struct {
	Code     string `json:"code" validate:"required,notblank,max=32"`
	Name     string `json:"name" validate:"required,notblank,max=200"`
	Capacity int    `json:"capacity" validate:"min=0"`
}

type roomPatchRequest struct {
	Code     *string `json:"code" validate:"omitempty,max=32"`
	Name     *string `json:"name" validate:"omitempty,max=200"`
	Capacity *int    `json:"capacity" validate:"omitempty,min=0"`
	Active   *bool   `json:"active"`
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}

	room, err := h.service.Create(r.Context(), principal, application.RoomInput{
		Code:     strings.TrimSpace(req.Code),
		Name:     strings.TrimSpace(req.Name),
		Capacity: req.Capacity,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, h.responder.room(room))
}

func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req roomPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}

	room, err := h.service.Update(r.Context(), principal, r.PathValue("id"), application.RoomPatch{
		Code:     trimmed(req.Code),
		Name:     trimmed(req.Name),
		Capacity: req.Capacity,
		Active:   req.Active,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.room(room))
}

func (h *RoomHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	room, err := h.service.Deactivate(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.room(room))
}

// Delete reports whether the room was removed or only deactivated because it
// has session history.
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	roomID := r.PathValue("id")
	deleted, err := h.service.Delete(r.Context(), principal, roomID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "Delete", "room_id", roomID, "deleted", deleted).DebugContext(r.Context(), "room removed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"id": roomID, "deleted": deleted})
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.room(room))
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.service.List(r.Context(), boolQuery(r.URL.Query(), "active"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, h.responder.room(room))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"results": out})
}
