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

type userDirectory interface {
	GetUser(ctx context.Context, id string) (persistence.User, error)
	ListVerifiedAdmins(ctx context.Context) ([]persistence.User, error)
	Upsert(ctx context.Context, principal application.Principal, input application.UserInput) (persistence.User, error)
}

// UserHandler lets the external registration workflow push directory records.
type UserHandler struct {
	directory userDirectory
	responder responder
	logger    *slog.Logger
}

func NewUserHandler(directory userDirectory, loc *time.Location, logger *slog.Logger) *UserHandler {
	base := defaultLogger(logger)
	return &UserHandler{directory: directory, responder: newResponder(base, loc), logger: base}
}

type userRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,notblank,max=200"`
	Role        string `json:"role" validate:"required,oneof=admin monitor"`
	Verified    bool   `json:"verified"`
	Active      *bool  `json:"active"`
}

// Upsert handles PUT /users/{id}. Active defaults to true.
func (h *UserHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	userID := r.PathValue("id")

	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.respondDecodeError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	user, err := h.directory.Upsert(r.Context(), principal, application.UserInput{
		ID:          strings.TrimSpace(userID),
		Email:       strings.TrimSpace(req.Email),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        persistence.Role(req.Role),
		Verified:    req.Verified,
		Active:      active,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	handlerLogger(r.Context(), h.logger, "UserHandler", "Upsert", "user_id", user.ID).
		DebugContext(r.Context(), "user upserted")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.user(user))
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	userID := r.PathValue("id")
	if userID != principal.UserID && !principal.IsAdmin {
		h.responder.handleServiceError(r.Context(), w, errAdminRequired)
		return
	}
	user, err := h.directory.GetUser(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, h.responder.user(user))
}

func (h *UserHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.ListVerifiedAdmins(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, h.responder.user(u))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"results": out})
}
