package http

import (
	"net/http"
)

// RouterConfig wires handlers into the mux. Nil handlers leave their routes unmounted.
type RouterConfig struct {
	Shifts        *ShiftHandler
	Sessions      *SessionHandler
	Courses       *CourseHandler
	Compliance    *ComplianceHandler
	Rooms         *RoomHandler
	Users         *UserHandler
	Notifications *NotificationHandler
	// Middleware wraps every route except /healthz, outermost first.
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if h := cfg.Shifts; h != nil {
		mux.HandleFunc("POST /shifts", h.Create)
		mux.HandleFunc("GET /shifts", h.List)
		mux.HandleFunc("GET /shifts/upcoming", h.Upcoming)
		mux.HandleFunc("GET /shifts/current", h.Current)
		mux.HandleFunc("GET /shifts/{id}", h.Get)
		mux.HandleFunc("PATCH /shifts/{id}", h.Update)
		mux.HandleFunc("POST /shifts/{id}/cancel", h.Cancel)
		mux.HandleFunc("DELETE /shifts/{id}", h.Delete)
	}

	if h := cfg.Compliance; h != nil {
		mux.HandleFunc("POST /shifts/{id}/check-compliance", h.Check)
		mux.HandleFunc("POST /compliance/sweep", h.Sweep)
		mux.HandleFunc("GET /compliance/daily-summary", h.DailySummary)
	}

	if h := cfg.Sessions; h != nil {
		mux.HandleFunc("POST /sessions/enter", h.Enter)
		mux.HandleFunc("POST /sessions/{id}/exit", h.Exit)
		mux.HandleFunc("GET /sessions/active", h.Active)
		mux.HandleFunc("GET /sessions/history", h.History)
		mux.HandleFunc("GET /sessions/validate-access", h.ValidateAccess)
	}

	if h := cfg.Courses; h != nil {
		mux.HandleFunc("POST /courses", h.Create)
		mux.HandleFunc("GET /courses", h.List)
		mux.HandleFunc("GET /courses/{id}", h.Get)
		mux.HandleFunc("PATCH /courses/{id}", h.Update)
		mux.HandleFunc("DELETE /courses/{id}", h.Delete)
		mux.HandleFunc("GET /courses/{id}/history", h.History)
	}

	if h := cfg.Rooms; h != nil {
		mux.HandleFunc("POST /rooms", h.Create)
		mux.HandleFunc("GET /rooms", h.List)
		mux.HandleFunc("GET /rooms/{id}", h.Get)
		mux.HandleFunc("PATCH /rooms/{id}", h.Update)
		mux.HandleFunc("POST /rooms/{id}/deactivate", h.Deactivate)
		mux.HandleFunc("DELETE /rooms/{id}", h.Delete)
	}

	if h := cfg.Users; h != nil {
		mux.HandleFunc("GET /users/admins", h.ListAdmins)
		mux.HandleFunc("GET /users/{id}", h.Get)
		mux.HandleFunc("PUT /users/{id}", h.Upsert)
	}

	if h := cfg.Notifications; h != nil {
		mux.HandleFunc("GET /notifications", h.List)
		mux.HandleFunc("POST /notifications/{id}/read", h.MarkRead)
	}

	var api http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			api = cfg.Middleware[i](api)
		}
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	root.Handle("/", api)
	return root
}
