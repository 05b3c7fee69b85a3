package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-compliance/internal/application"
	"github.com/example/shift-compliance/internal/notify"
	"github.com/example/shift-compliance/internal/persistence/memory"
	"github.com/example/shift-compliance/internal/testfixtures"
)

type server struct {
	handler http.Handler
	clock   *testfixtures.Clock
	logs    *bytes.Buffer
}

func newServer(t *testing.T) *server {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	store := memory.New()
	testfixtures.Seed(t, store, testfixtures.Campus())

	clk := testfixtures.NewClock(time.Time{})
	ids := testfixtures.NewIDGenerator("id").NextFunc()
	policy := application.DefaultPolicy()
	loc := clk.Location()

	emitter := application.NewNotificationEmitterWithLogger(store, clk, ids, notify.Discard, logger)
	watcher := application.NewExcessHoursWatcherWithLogger(store, clk, emitter, policy, logger)
	directory := application.NewUserDirectoryWithLogger(store, clk, logger)

	handler := NewRouter(RouterConfig{
		Shifts:        NewShiftHandler(application.NewShiftServiceWithLogger(store, clk, ids, policy, logger), loc, logger),
		Sessions:      NewSessionHandler(application.NewSessionGateWithLogger(store, clk, ids, policy, watcher, logger), loc, logger),
		Courses:       NewCourseHandler(application.NewCoursePlannerWithLogger(store, clk, ids, policy, emitter, logger), loc, logger),
		Compliance:    NewComplianceHandler(application.NewComplianceMonitorWithLogger(store, clk, emitter, watcher, policy, logger), loc, logger),
		Rooms:         NewRoomHandler(application.NewRoomServiceWithLogger(store, clk, ids, logger), loc, logger),
		Users:         NewUserHandler(directory, loc, logger),
		Notifications: NewNotificationHandler(application.NewNotificationServiceWithLogger(store, clk, logger), loc, logger),
		Middleware: []func(http.Handler) http.Handler{
			RequestLogger(logger),
			RequirePrincipal(directory, logger),
		},
	})
	return &server{handler: handler, clock: clk, logs: logs}
}

func (s *server) do(t *testing.T, method, path, userID string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(PrincipalHeader, userID)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec, payload
}

func (s *server) createShift(t *testing.T, userID, roomID, start, end string) string {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/shifts", "admin-1", map[string]any{
		"user_id": userID, "room_id": roomID, "start": start, "end": end,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["id"].(string)
}

func TestShiftHandlers(t *testing.T) {
	t.Parallel()

	t.Run("admin creates a shift rendered in the local zone", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)

		rec, body := s.do(t, http.MethodPost, "/shifts", "admin-1", map[string]any{
			"user_id": "M1", "room_id": "R1", "start": "2025-09-01T08:00", "end": "2025-09-01T12:00",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "2025-09-01T08:00:00-05:00", body["start"])
		assert.Equal(t, "active", body["status"])
		assert.Equal(t, "admin-1", body["created_by"])

		rec, body = s.do(t, http.MethodGet, "/shifts/"+body["id"].(string), "M1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "R1", body["room_id"])
	})

	t.Run("maps service errors to status codes", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		s.createShift(t, "M1", "R1", "2025-09-01T08:00:00-05:00", "2025-09-01T12:00:00-05:00")

		tests := []struct {
			name   string
			userID string
			body   any
			status int
			kind   string
		}{
			{"monitor may not create", "M1", map[string]any{"user_id": "M2", "room_id": "R2", "start": "2025-09-01T08:00", "end": "2025-09-01T09:00"}, http.StatusForbidden, "forbidden"},
			{"too long", "admin-1", map[string]any{"user_id": "M2", "room_id": "R2", "start": "2025-09-01T08:00", "end": "2025-09-01T20:01"}, http.StatusBadRequest, "too-long"},
			{"unverified monitor", "admin-1", map[string]any{"user_id": "M9", "room_id": "R2", "start": "2025-09-01T08:00", "end": "2025-09-01T09:00"}, http.StatusUnprocessableEntity, "unverified"},
			{"unknown room", "admin-1", map[string]any{"user_id": "M2", "room_id": "R404", "start": "2025-09-01T08:00", "end": "2025-09-01T09:00"}, http.StatusNotFound, "not-found"},
			{"room conflict", "admin-1", map[string]any{"user_id": "M2", "room_id": "R1", "start": "2025-09-01T11:00", "end": "2025-09-01T13:00"}, http.StatusConflict, "room-conflict"},
			{"missing field", "admin-1", map[string]any{"room_id": "R2", "start": "2025-09-01T08:00", "end": "2025-09-01T09:00"}, http.StatusBadRequest, "missing-field"},
			{"bad instant", "admin-1", map[string]any{"user_id": "M2", "room_id": "R2", "start": "tomorrow", "end": "2025-09-01T09:00"}, http.StatusBadRequest, "missing-field"},
		}
		for _, tc := range tests {
			rec, body := s.do(t, http.MethodPost, "/shifts", tc.userID, tc.body)
			assert.Equal(t, tc.status, rec.Code, "%s: %s", tc.name, rec.Body.String())
			assert.Equal(t, tc.kind, body["kind"], tc.name)
			assert.NotEmpty(t, body["error"], tc.name)
		}
	})

	t.Run("room conflict body carries details and suggestion", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		first := s.createShift(t, "M1", "R1", "2025-09-01T08:00", "2025-09-01T12:00")

		rec, body := s.do(t, http.MethodPost, "/shifts", "admin-1", map[string]any{
			"user_id": "M2", "room_id": "R1", "start": "2025-09-01T10:00", "end": "2025-09-01T14:00",
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, body["error"], "Monitor One (M1)")
		details := body["details"].(map[string]any)
		assert.Equal(t, first, details["conflicting_shift_id"])
		assert.NotEmpty(t, body["suggestion"])
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		rec, body := s.do(t, http.MethodPost, "/shifts", "admin-1", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body["error"], "not valid JSON")
	})

	t.Run("validation errors list the offending fields", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		rec, body := s.do(t, http.MethodPost, "/shifts", "admin-1", map[string]any{"notes": "x"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		fields := body["details"].(map[string]any)["fields"].(map[string]any)
		assert.Contains(t, fields, "user_id")
		assert.Contains(t, fields, "room_id")
		assert.Contains(t, fields, "start")
	})

	t.Run("lists with the page envelope and filters", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		s.createShift(t, "M1", "R1", "2025-09-01T08:00", "2025-09-01T10:00")
		s.createShift(t, "M2", "R2", "2025-09-01T08:00", "2025-09-01T10:00")
		s.createShift(t, "M1", "R1", "2025-09-02T08:00", "2025-09-02T10:00")

		rec, body := s.do(t, http.MethodGet, "/shifts?user=M1&date_from=2025-09-01&date_to=2025-09-01&page_size=1", "admin-1", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.EqualValues(t, 1, body["count"])
		assert.EqualValues(t, 1, body["page_size"])
		assert.Equal(t, false, body["has_next"])
		assert.Len(t, body["results"], 1)

		rec, body = s.do(t, http.MethodGet, "/shifts/upcoming?user=M1", "M1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, body["count"])

		rec, _ = s.do(t, http.MethodGet, "/shifts?page=zero", "admin-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, body = s.do(t, http.MethodGet, "/shifts?page=4611686018427387904", "admin-1", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Empty(t, body["results"])
		assert.Equal(t, false, body["has_next"])
	})

	t.Run("cancel and delete", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		id := s.createShift(t, "M1", "R1", "2025-09-01T08:00", "2025-09-01T10:00")

		rec, body := s.do(t, http.MethodPost, "/shifts/"+id+"/cancel", "admin-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cancelled", body["status"])

		rec, _ = s.do(t, http.MethodDelete, "/shifts/"+id, "admin-1", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec, _ = s.do(t, http.MethodGet, "/shifts/"+id, "admin-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSessionHandlers(t *testing.T) {
	t.Parallel()

	t.Run("enter, active and exit", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		s.createShift(t, "M1", "R1", "2025-09-01T07:05", "2025-09-01T11:00")

		rec, body := s.do(t, http.MethodGet, "/sessions/validate-access?room=R1", "M1", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, true, body["grace"])

		rec, body = s.do(t, http.MethodPost, "/sessions/enter", "M1", map[string]any{"room_id": "R1"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, true, body["open"])
		id := body["id"].(string)

		rec, body = s.do(t, http.MethodGet, "/sessions/active", "M1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, id, body["session"].(map[string]any)["id"])

		s.clock.Advance(90 * time.Minute)
		rec, body = s.do(t, http.MethodPost, "/sessions/"+id+"/exit", "M1", map[string]any{"notes": "done"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, false, body["open"])
		assert.Equal(t, "1.5", body["duration_hours"])

		rec, body = s.do(t, http.MethodGet, "/sessions/active", "M1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, body["session"])

		rec, body = s.do(t, http.MethodGet, "/sessions/history?date_from=2025-09-01&date_to=2025-09-01", "M1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, body["count"])
	})

	t.Run("entry without a shift is a conflict", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		rec, body := s.do(t, http.MethodPost, "/sessions/enter", "M2", map[string]any{"room_id": "R2"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "no-shift", body["kind"])
	})

	t.Run("monitors cannot read other users", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		rec, _ := s.do(t, http.MethodGet, "/sessions/active?user=M2", "M1", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec, _ = s.do(t, http.MethodGet, "/sessions/active?user=M2", "admin-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("validate-access requires a room", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		rec, body := s.do(t, http.MethodGet, "/sessions/validate-access", "M1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing-field", body["kind"])
	})
}

func TestCourseHandlers(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	shiftID := s.createShift(t, "M1", "R1", "2025-09-01T08:00", "2025-09-01T12:00")

	rec, body := s.do(t, http.MethodPost, "/courses", "admin-1", map[string]any{
		"name": "Algebra", "room_id": "R1", "shift_id": shiftID,
		"start": "2025-09-01T09:00", "end": "2025-09-01T11:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	courseID := body["id"].(string)
	assert.Equal(t, "scheduled", body["status"])

	rec, body = s.do(t, http.MethodPost, "/courses", "admin-1", map[string]any{
		"name": "Overflow", "room_id": "R1", "shift_id": shiftID,
		"start": "2025-09-01T11:00", "end": "2025-09-01T12:01",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "shift-does-not-cover", body["kind"])

	rec, body = s.do(t, http.MethodPatch, "/courses/"+courseID, "admin-1", map[string]any{"name": "Algebra II"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Algebra II", body["name"])

	rec, body = s.do(t, http.MethodPatch, "/courses/"+courseID, "admin-1", map[string]any{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["details"].(map[string]any)["fields"], "status")

	rec, body = s.do(t, http.MethodGet, "/courses/"+courseID+"/history", "M1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["results"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "create", entries[0].(map[string]any)["action"])
	assert.Equal(t, "update", entries[1].(map[string]any)["action"])

	rec, body = s.do(t, http.MethodGet, "/courses?shift="+shiftID, "M1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = s.do(t, http.MethodGet, "/notifications?unread=true", "M1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
	first := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "course-history", first["kind"])

	rec, body = s.do(t, http.MethodPost, "/notifications/"+first["id"].(string)+"/read", "M1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["read"])
	assert.NotNil(t, body["read_at"])

	rec, _ = s.do(t, http.MethodDelete, "/courses/"+courseID, "admin-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, body = s.do(t, http.MethodGet, "/courses/"+courseID+"/history", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["results"], 3)
}

func TestComplianceHandlers(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	shiftID := s.createShift(t, "M1", "R1", "2025-09-01T08:00", "2025-09-01T12:00")

	rec, _ := s.do(t, http.MethodPost, "/compliance/sweep", "M1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	s.clock.SetLocal("2025-09-01 08:21")
	rec, body := s.do(t, http.MethodPost, "/shifts/"+shiftID+"/check-compliance", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "non-compliant", body["verdict"])

	rec, body = s.do(t, http.MethodPost, "/compliance/sweep", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["evaluated"])
	assert.EqualValues(t, 1, body["verdicts"].(map[string]any)["non-compliant"])

	rec, body = s.do(t, http.MethodGet, "/compliance/daily-summary?date=2025-09-01", "admin-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-09-01", body["date"])
	assert.Equal(t, []any{shiftID}, body["non_compliant"])

	rec, body = s.do(t, http.MethodGet, "/compliance/daily-summary?date=09/01/2025", "admin-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing-field", body["kind"])
}

func TestRoomHandlers(t *testing.T) {
	t.Parallel()

	t.Run("allow non-admins to list rooms", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		rec, body := s.do(t, http.MethodGet, "/rooms", "M1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, body["results"], 4)
	})

	t.Run("require admin role for mutations", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		rec, _ := s.do(t, http.MethodPost, "/rooms", "M1", map[string]any{"code": "R5", "name": "Lab"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec, body := s.do(t, http.MethodPost, "/rooms", "admin-1", map[string]any{"code": "R5", "name": "Lab", "capacity": 12})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		id := body["id"].(string)

		rec, body = s.do(t, http.MethodPost, "/rooms/"+id+"/deactivate", "admin-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["active"])

		rec, body = s.do(t, http.MethodDelete, "/rooms/"+id, "admin-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["deleted"])
	})
}

func TestUserHandlers(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	rec, body := s.do(t, http.MethodPut, "/users/M5", "admin-1", map[string]any{
		"email": "m5@example.com", "display_name": "Monitor Five", "role": "monitor", "verified": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["active"])

	rec, _ = s.do(t, http.MethodPut, "/users/M6", "M1", map[string]any{
		"email": "m6@example.com", "display_name": "Monitor Six", "role": "monitor",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = s.do(t, http.MethodPut, "/users/M6", "admin-1", map[string]any{
		"email": "nope", "display_name": "Monitor Six", "role": "janitor",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := body["details"].(map[string]any)["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "role")

	rec, _ = s.do(t, http.MethodGet, "/users/M5", "M1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, body = s.do(t, http.MethodGet, "/users/M5", "M5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Monitor Five", body["display_name"])

	rec, body = s.do(t, http.MethodGet, "/users/admins", "M1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["results"], 2)
}

func TestStatusForKind(t *testing.T) {
	t.Parallel()
	cases := map[application.Kind]int{
		application.KindBadInterval:      http.StatusBadRequest,
		application.KindMissingField:     http.StatusBadRequest,
		application.KindForbidden:        http.StatusForbidden,
		application.KindNotFound:         http.StatusNotFound,
		application.KindWrongRole:        http.StatusUnprocessableEntity,
		application.KindInactiveRoom:     http.StatusUnprocessableEntity,
		application.KindAlreadyIn:        http.StatusConflict,
		application.KindRoomConflict:     http.StatusConflict,
		application.KindTimeout:          http.StatusGatewayTimeout,
		application.KindStoreUnavailable: http.StatusServiceUnavailable,
		application.KindDeliveryFailed:   http.StatusServiceUnavailable,
		application.KindInternal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), string(kind))
	}
}
