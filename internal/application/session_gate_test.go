package application

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-compliance/internal/compliance"
	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/testfixtures"
)

func TestSessionGate_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s1 := h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")

	h.clock.SetLocal("2025-09-01 07:55")
	entered, err := h.gate.Enter(ctx, "M1", "R1", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(entered.Notes, GraceEntryNote))

	h.clock.SetLocal("2025-09-01 11:45")
	exited, err := h.gate.Exit(ctx, "M1", entered.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, "3.83", exited.DurationHours.StringFixed(2))
	assert.Contains(t, exited.Notes, "done")

	result, err := h.monitor.Check(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, compliance.VerdictCompliant, result.Verdict)
	assert.Equal(t, entered.ID, result.SessionID)
	assert.Zero(t, result.Notified)
	assert.Empty(t, h.notifications(t, persistence.NotificationFilter{}))
}

func TestSessionGate_EntryGraceBoundary(t *testing.T) {
	ctx := context.Background()
	shiftStart := testfixtures.Local("2025-09-01 08:00")

	inside := newHarness(t)
	inside.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	inside.clock.Set(shiftStart.Add(-10 * time.Minute))
	decision, err := inside.gate.ValidateAccess(ctx, "M1", "R1", time.Time{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Grace)
	assert.Equal(t, 10, decision.Hints.MinutesUntilShift)

	outside := newHarness(t)
	s := outside.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	outside.clock.Set(shiftStart.Add(-10*time.Minute - time.Second))
	_, err = outside.gate.Enter(ctx, "M1", "R1", "")
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindNoShift, appErr.Kind)
	assert.Equal(t, true, appErr.Details["upcoming_shift"])
	assert.Equal(t, s.ID, appErr.Details["upcoming_shift_id"])
	assert.Equal(t, 11, appErr.Details["minutes_until_shift"])
	assert.Equal(t, false, appErr.Details["shift_in_other_room"])
}

func TestSessionGate_EnterWithinShiftIsNotGrace(t *testing.T) {
	h := newHarness(t)
	h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	h.clock.SetLocal("2025-09-01 08:00")

	view, err := h.gate.Enter(context.Background(), "M1", "R1", "on time")
	require.NoError(t, err)
	assert.Equal(t, "on time", view.Notes)
}

func TestSessionGate_RefusalsCarryHints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other := h.createShift(t, "M1", "R2", "2025-09-01 08:00", "2025-09-01 12:00")
	h.clock.SetLocal("2025-09-01 09:00")

	_, err := h.gate.Enter(ctx, "M1", "R1", "")
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindNoShift, appErr.Kind)
	assert.Equal(t, true, appErr.Details["shift_in_other_room"])
	assert.Equal(t, "R2", appErr.Details["other_room_id"])
	assert.Equal(t, other.ID, appErr.Details["other_room_shift_id"])
	assert.Contains(t, appErr.Message, "R2")

	_, err = h.gate.Enter(ctx, "M1", "R9", "")
	assert.ErrorIs(t, err, ErrNotFound)

	h.seed(t, testfixtures.Dataset{Rooms: []persistence.Room{testfixtures.NewRoom("R5", testfixtures.InactiveRoom())}})
	_, err = h.gate.Enter(ctx, "M1", "R5", "")
	assert.ErrorIs(t, err, ErrInactiveRoom)

	_, err = h.gate.Enter(ctx, "ghost", "R1", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.gate.Enter(ctx, "", "R1", "")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestSessionGate_AlreadyInAndActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	h.createShift(t, "M1", "R2", "2025-09-01 13:00", "2025-09-01 15:00")
	h.clock.SetLocal("2025-09-01 08:30")

	none, err := h.gate.Active(ctx, "M1")
	require.NoError(t, err)
	assert.Nil(t, none)

	first, err := h.gate.Enter(ctx, "M1", "R1", "")
	require.NoError(t, err)

	h.clock.SetLocal("2025-09-01 13:00")
	_, err = h.gate.Enter(ctx, "M1", "R2", "")
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindAlreadyIn, appErr.Kind)
	assert.Equal(t, first.ID, appErr.Details["open_session_id"])

	active, err := h.gate.Active(ctx, "M1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, "4.50", active.DurationHours.StringFixed(2))
}

func TestSessionGate_ConcurrentEntry(t *testing.T) {
	h := newHarness(t)
	h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	h.clock.SetLocal("2025-09-01 08:05")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		alreadyIn int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.gate.Enter(context.Background(), "M1", "R1", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case KindOf(err) == KindAlreadyIn:
				alreadyIn++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, alreadyIn)

	open, err := h.store.Reader().ListSessions(context.Background(), persistence.SessionFilter{UserID: "M1", OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSessionGate_ExitRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	h.createShift(t, "M1", "R2", "2025-09-01 13:00", "2025-09-01 15:00")
	h.clock.SetLocal("2025-09-01 08:00")
	first, err := h.gate.Enter(ctx, "M1", "R1", "")
	require.NoError(t, err)

	_, err = h.gate.Exit(ctx, "M1", first.ID, "")
	assert.ErrorIs(t, err, ErrBadInterval, "exit at the entry instant")

	_, err = h.gate.Exit(ctx, "M2", first.ID, "")
	assert.ErrorIs(t, err, ErrNotFound, "sessions of other users are invisible")

	h.clock.SetLocal("2025-09-01 12:00")
	_, err = h.gate.Exit(ctx, "M1", first.ID, "")
	require.NoError(t, err)

	h.clock.SetLocal("2025-09-01 13:00")
	second, err := h.gate.Enter(ctx, "M1", "R2", "")
	require.NoError(t, err)

	_, err = h.gate.Exit(ctx, "M1", first.ID, "")
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindAlreadyClosed, appErr.Kind)
	assert.Equal(t, second.ID, appErr.Details["open_session_id"])
	assert.Contains(t, appErr.Suggestion, second.ID)

	_, err = h.gate.Exit(ctx, "M1", "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionGate_History(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, testfixtures.Dataset{Sessions: []persistence.RoomSession{
		testfixtures.NewSession("sess-a", "M1", "R1", "2025-08-30 08:00", "2025-08-30 10:00"),
		testfixtures.NewSession("sess-b", "M1", "R2", "2025-08-31 08:00", "2025-08-31 09:00"),
		testfixtures.NewSession("sess-c", "M2", "R2", "2025-08-31 08:00", "2025-08-31 09:00"),
	}})

	page, err := h.gate.History(ctx, "M1", "", "", PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "sess-b", page.Results[0].ID)
	assert.Equal(t, "2.00", page.Results[1].DurationHours.StringFixed(2))

	day, err := h.gate.History(ctx, "M1", "2025-08-30", "2025-08-30", PageRequest{})
	require.NoError(t, err)
	require.Len(t, day.Results, 1)
	assert.Equal(t, "sess-a", day.Results[0].ID)
}

func TestSessionGate_ExitTriggersExcessWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock.SetLocal("2025-09-01 06:00")
	h.createShift(t, "M1", "R1", "2025-09-01 06:00", "2025-09-01 14:00")
	_, err := h.gate.Enter(ctx, "M1", "R1", "")
	require.NoError(t, err)

	open, err := h.gate.Active(ctx, "M1")
	require.NoError(t, err)
	h.clock.SetLocal("2025-09-01 13:30")
	_, err = h.gate.Exit(ctx, "M1", open.ID, "")
	require.NoError(t, err)

	warnings := h.notifications(t, persistence.NotificationFilter{Kind: persistence.KindExcessiveHoursWarn})
	require.Len(t, warnings, 1)
	assert.Equal(t, "M1", warnings[0].RecipientID)
	assert.Equal(t, open.ID, warnings[0].RelatedID)
}
