package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-compliance/internal/compliance"
	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/testfixtures"
)

func TestComplianceMonitor_NoShowIsReportedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s2 := h.createShift(t, "M2", "R2", "2025-09-01 09:00", "2025-09-01 13:00")

	h.clock.SetLocal("2025-09-01 09:25")
	report, err := h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Verdicts[compliance.VerdictNonCompliant])
	assert.Equal(t, 2, report.Notified)

	alerts := h.notifications(t, persistence.NotificationFilter{Kind: persistence.KindShiftNonCompliance})
	require.Len(t, alerts, 2)
	recipients := []string{alerts[0].RecipientID, alerts[1].RecipientID}
	assert.ElementsMatch(t, []string{"admin-1", "admin-2"}, recipients)
	assert.Equal(t, s2.ID, alerts[0].RelatedID)
	assert.Len(t, h.sink.delivered(), 2)

	h.clock.SetLocal("2025-09-01 09:40")
	report, err = h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Notified)
	assert.Len(t, h.notifications(t, persistence.NotificationFilter{Kind: persistence.KindShiftNonCompliance}), 2)
}

func TestComplianceMonitor_UndeliveredAlertIsRetriedNextSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createShift(t, "M2", "R2", "2025-09-01 09:00", "2025-09-01 13:00")

	h.sink.err = errors.New("gateway unavailable")
	h.clock.SetLocal("2025-09-01 09:25")
	report, err := h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Zero(t, report.Notified)
	assert.Empty(t, h.notifications(t, persistence.NotificationFilter{Kind: persistence.KindShiftNonCompliance}))

	h.sink.err = nil
	h.clock.SetLocal("2025-09-01 09:40")
	report, err = h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failures)
	assert.Equal(t, 2, report.Notified)
	assert.Len(t, h.notifications(t, persistence.NotificationFilter{Kind: persistence.KindShiftNonCompliance}), 2)
}

func TestComplianceMonitor_GraceBoundary(t *testing.T) {
	ctx := context.Background()
	start := testfixtures.Local("2025-09-01 08:00")

	h := newHarness(t)
	s := h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")

	h.clock.Set(start.Add(-time.Minute))
	result, err := h.monitor.Check(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, compliance.VerdictPending, result.Verdict)

	h.clock.Set(start.Add(20 * time.Minute))
	result, err = h.monitor.Check(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, compliance.VerdictGrace, result.Verdict)
	assert.Zero(t, result.Notified)

	h.clock.Set(start.Add(20*time.Minute + time.Second))
	result, err = h.monitor.Check(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, compliance.VerdictNonCompliant, result.Verdict)
	assert.Equal(t, 2, result.Notified)
}

func TestComplianceMonitor_LateArrival(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")

	h.clock.SetLocal("2025-09-01 08:25")
	session, err := h.gate.Enter(ctx, "M1", "R1", "")
	require.NoError(t, err)

	h.clock.SetLocal("2025-09-01 08:30")
	result, err := h.monitor.Check(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, compliance.VerdictLateCompliant, result.Verdict)
	assert.Equal(t, session.ID, result.SessionID)
	assert.Equal(t, 25, result.LatenessMin)
	assert.Equal(t, 2, result.Notified)

	alerts := h.notifications(t, persistence.NotificationFilter{RecipientID: "admin-1"})
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Body, "25 minutes")
}

func TestComplianceMonitor_CancelledShiftDoesNotNotify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	_, err := h.shifts.Cancel(ctx, admin, s.ID)
	require.NoError(t, err)

	h.clock.SetLocal("2025-09-01 09:00")
	result, err := h.monitor.Check(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, compliance.VerdictNonCompliant, result.Verdict)
	assert.Zero(t, result.Notified)

	report, err := h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated)

	_, err = h.monitor.Check(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComplianceMonitor_AutoClosesAtChainEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	h.createShift(t, "M1", "R1", "2025-09-01 12:00", "2025-09-01 14:00")

	h.clock.SetLocal("2025-09-01 07:52")
	session, err := h.gate.Enter(ctx, "M1", "R1", "")
	require.NoError(t, err)

	h.clock.SetLocal("2025-09-01 12:30")
	report, err := h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.AutoClosed)

	h.clock.SetLocal("2025-09-01 14:05")
	report, err = h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AutoClosed)

	closed, err := h.store.Reader().GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.ExitTime)
	assert.True(t, closed.ExitTime.Equal(testfixtures.Local("2025-09-01 14:00")))
	assert.Contains(t, closed.Notes, AutoCloseNote)
	assert.True(t, strings.HasPrefix(closed.Notes, GraceEntryNote))

	assert.Empty(t, h.notifications(t, persistence.NotificationFilter{RelatedID: session.ID}), "6h08m stays under every threshold")
}

func TestComplianceMonitor_SweepGradesOpenSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, testfixtures.Dataset{Sessions: []persistence.RoomSession{
		testfixtures.NewSession("sess-night", "M3", "R3", "2025-09-01 00:00", ""),
	}})

	h.clock.SetLocal("2025-09-01 10:30")
	report, err := h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExcessAlerts)
	assert.Zero(t, report.AutoClosed)
	assert.Zero(t, report.Failures)
}

func TestComplianceMonitor_DailySummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	missed := h.createShift(t, "M2", "R2", "2025-09-01 09:00", "2025-09-01 13:00")
	attended := h.createShift(t, "M1", "R1", "2025-09-01 08:00", "2025-09-01 12:00")
	h.createShift(t, "M3", "R3", "2025-09-02 08:00", "2025-09-02 12:00")

	h.clock.SetLocal("2025-09-01 08:00")
	session, err := h.gate.Enter(ctx, "M1", "R1", "")
	require.NoError(t, err)
	h.clock.SetLocal("2025-09-01 12:00")
	_, err = h.gate.Exit(ctx, "M1", session.ID, "")
	require.NoError(t, err)

	h.clock.SetLocal("2025-09-01 22:15")
	report, err := h.monitor.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01", report.SummaryDate)

	summaries := h.notifications(t, persistence.NotificationFilter{Kind: persistence.KindDailySummary})
	require.Len(t, summaries, 2)
	assert.Contains(t, summaries[0].Body, "2 shifts evaluated")

	again, err := h.monitor.DailySummary(ctx, "2025-09-01")
	require.NoError(t, err)
	assert.Equal(t, []string{missed.ID}, again.NonCompliant)
	assert.Equal(t, 1, again.Verdicts[compliance.VerdictCompliant])
	assert.Zero(t, again.Notified, "one summary per day")
	assert.NotContains(t, again.NonCompliant, attended.ID)

	_, err = h.monitor.DailySummary(ctx, "01/09/2025")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestComplianceMonitor_NegativeSummaryHourDisablesSummary(t *testing.T) {
	h := newHarness(t, withPolicy(func(p *Policy) { p.DailySummaryHour = -1 }))
	h.createShift(t, "M2", "R2", "2025-09-01 09:00", "2025-09-01 13:00")

	h.clock.SetLocal("2025-09-01 23:30")
	report, err := h.monitor.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.SummaryDate)
	assert.Empty(t, h.notifications(t, persistence.NotificationFilter{Kind: persistence.KindDailySummary}))
}

func TestComplianceMonitor_SweepStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.createShift(t, "M2", "R2", "2025-09-01 09:00", "2025-09-01 13:00")
	h.clock.SetLocal("2025-09-01 09:30")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.monitor.RunSweep(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestComplianceMonitor_RunReturnsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.monitor.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	assert.Error(t, h.monitor.Run(context.Background(), 0))
}
