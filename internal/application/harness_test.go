package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/shift-compliance/internal/notify"
	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/persistence/memory"
	"github.com/example/shift-compliance/internal/testfixtures"
)

var (
	admin      = Principal{UserID: "admin-1", IsAdmin: true}
	otherAdmin = Principal{UserID: "admin-2", IsAdmin: true}
	monitorM1  = Principal{UserID: "M1"}
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (s *recordingSink) Deliver(_ context.Context, msgs []notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msgs...)
	return s.err
}

func (s *recordingSink) delivered() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// harness wires every service over one in-memory store seeded with the campus dataset.
type harness struct {
	store   *memory.Store
	clock   *testfixtures.Clock
	ids     *testfixtures.IDGenerator
	policy  Policy
	sink    *recordingSink
	logs    *bytes.Buffer
	logger  *slog.Logger
	emitter *NotificationEmitter
	watcher *ExcessHoursWatcher
	shifts  *ShiftService
	gate    *SessionGate
	courses *CoursePlanner
	monitor *ComplianceMonitor
	rooms   *RoomService
	users   *UserDirectory
	inbox   *NotificationService
}

type harnessOption func(*harness)

func withPolicy(fn func(*Policy)) harnessOption {
	return func(h *harness) { fn(&h.policy) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logs := &bytes.Buffer{}
	h := &harness{
		store:  memory.New(),
		clock:  testfixtures.NewClock(time.Time{}),
		ids:    testfixtures.NewIDGenerator("id"),
		policy: DefaultPolicy(),
		sink:   &recordingSink{},
		logs:   logs,
		logger: slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	for _, opt := range opts {
		opt(h)
	}
	testfixtures.Seed(t, h.store, testfixtures.Campus())

	next := h.ids.NextFunc()
	h.emitter = NewNotificationEmitterWithLogger(h.store, h.clock, next, h.sink, h.logger)
	h.watcher = NewExcessHoursWatcherWithLogger(h.store, h.clock, h.emitter, h.policy, h.logger)
	h.shifts = NewShiftServiceWithLogger(h.store, h.clock, next, h.policy, h.logger)
	h.gate = NewSessionGateWithLogger(h.store, h.clock, next, h.policy, h.watcher, h.logger)
	h.courses = NewCoursePlannerWithLogger(h.store, h.clock, next, h.policy, h.emitter, h.logger)
	h.monitor = NewComplianceMonitorWithLogger(h.store, h.clock, h.emitter, h.watcher, h.policy, h.logger)
	h.rooms = NewRoomServiceWithLogger(h.store, h.clock, next, h.logger)
	h.users = NewUserDirectoryWithLogger(h.store, h.clock, h.logger)
	h.inbox = NewNotificationServiceWithLogger(h.store, h.clock, h.logger)
	return h
}

func (h *harness) seed(t *testing.T, ds testfixtures.Dataset) {
	t.Helper()
	testfixtures.Seed(t, h.store, ds)
}

// createShift creates a shift through the service at local times.
func (h *harness) createShift(t *testing.T, userID, roomID, start, end string) persistence.Shift {
	t.Helper()
	shift, err := h.shifts.Create(context.Background(), admin, ShiftInput{
		UserID: userID,
		RoomID: roomID,
		Start:  testfixtures.Local(start),
		End:    testfixtures.Local(end),
	})
	if err != nil {
		t.Fatalf("create shift %s/%s %s-%s: %v", userID, roomID, start, end, err)
	}
	return shift
}

func (h *harness) notifications(t *testing.T, filter persistence.NotificationFilter) []persistence.Notification {
	t.Helper()
	rows, err := h.store.Reader().ListNotifications(context.Background(), filter)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return rows
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error")
	}
	return KindOf(err)
}
