package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/shift-compliance/internal/application"
	"github.com/example/shift-compliance/internal/persistence"
)

type notificationService interface {
	List(ctx context.Context, principal application.Principal, unreadOnly bool, page application.PageRequest) (application.Page[persistence.Notification], error)
	MarkRead(ctx context.Context, principal application.Principal, id string) (persistence.Notification, error)
}

type NotificationHandler struct {
	service   notificationService
	responder responder
}

func NewNotificationHandler(service notificationService, loc *time.Location, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, responder: newResponder(defaultLogger(logger), loc)}
}

// List handles GET /notifications?unread=true&page=&page_size=.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	result, err := h.service.List(r.Context(), principal, boolQuery(q, "unread"), page)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, application.MapPage(result, h.responder.notification))
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	n, err := h.service.MarkRead(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.notification(n))
}
