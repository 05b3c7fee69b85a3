package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/application"
)

type sessionGate interface {
	Enter(ctx context.Context, userID, roomID, notes string) (application.SessionView, error)
	Exit(ctx context.Context, userID, sessionID, notes string) (application.SessionView, error)
	Active(ctx context.Context, userID string) (*application.SessionView, error)
	History(ctx context.Context, userID, dateFrom, dateTo string, page application.PageRequest) (application.Page[application.SessionView], error)
	ValidateAccess(ctx context.Context, userID, roomID string, at time.Time) (application.AccessDecision, error)
}

// SessionHandler exposes room entry and exit. The acting principal is always
// the subject of enter and exit; admins may read other users' sessions.
type SessionHandler struct {
	gate      sessionGate
	responder responder
	logger    *slog.Logger
}

func NewSessionHandler(gate sessionGate, loc *time.Location, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	return &SessionHandler{gate: gate, responder: newResponder(base, loc), logger: base}
}

type enterRequest struct {
	RoomID string `json:"room_id" validate:"required,notblank"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type exitRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

func (h *SessionHandler) Enter(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req enterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}

	view, err := h.gate.Enter(r.Context(), principal.UserID, strings.TrimSpace(req.RoomID), strings.TrimSpace(req.Notes))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	handlerLogger(r.Context(), h.logger, "SessionHandler", "Enter", "session_id", view.ID).
		DebugContext(r.Context(), "session opened")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, h.responder.session(view))
}

func (h *SessionHandler) Exit(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req exitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}

	view, err := h.gate.Exit(r.Context(), principal.UserID, r.PathValue("id"), strings.TrimSpace(req.Notes))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.session(view))
}

func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(r)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	view, err := h.gate.Active(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if view == nil {
		h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"session": h.responder.session(*view)})
}

func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(r)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	result, err := h.gate.History(r.Context(), userID, strings.TrimSpace(q.Get("date_from")), strings.TrimSpace(q.Get("date_to")), page)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, application.MapPage(result, h.responder.session))
}

// ValidateAccess handles GET /sessions/validate-access?room=&at=&user=.
func (h *SessionHandler) ValidateAccess(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(r)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	q := r.URL.Query()
	roomID := strings.TrimSpace(q.Get("room"))
	if roomID == "" {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
			FieldErrors: map[string]string{"room": "is required"},
		})
		return
	}
	var at time.Time
	if raw := strings.TrimSpace(q.Get("at")); raw != "" {
		at, err = parseInstant("at", raw, h.responder.loc)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
	}

	decision, err := h.gate.ValidateAccess(r.Context(), userID, roomID, at)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAccessDTO(decision))
}

// subject returns the user a read applies to: the ?user= parameter for
// admins, otherwise the principal itself.
func subject(r *http.Request) (string, error) {
	principal, _ := PrincipalFromContext(r.Context())
	requested := strings.TrimSpace(r.URL.Query().Get("user"))
	if requested == "" || requested == principal.UserID {
		return principal.UserID, nil
	}
	if !principal.IsAdmin {
		return "", errAdminRequired
	}
	return requested, nil
}
