package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/compliance"
	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/scheduler"
)

// AutoCloseNote annotates sessions closed by a sweep.
const AutoCloseNote = "[auto-closed]"

// ComplianceMonitor classifies started shifts, closes sessions whose shift has
// ended, and drives the excess-hours watcher and the daily summary.
type ComplianceMonitor struct {
	store   persistence.Store
	clock   clock.Clock
	emitter *NotificationEmitter
	watcher *ExcessHoursWatcher
	policy  Policy
	logger  *slog.Logger
}

// NewComplianceMonitor constructs a monitor.
func NewComplianceMonitor(store persistence.Store, clk clock.Clock, emitter *NotificationEmitter, watcher *ExcessHoursWatcher, policy Policy) *ComplianceMonitor {
	return NewComplianceMonitorWithLogger(store, clk, emitter, watcher, policy, nil)
}

// NewComplianceMonitorWithLogger constructs a monitor with a specified logger.
func NewComplianceMonitorWithLogger(store persistence.Store, clk clock.Clock, emitter *NotificationEmitter, watcher *ExcessHoursWatcher, policy Policy, logger *slog.Logger) *ComplianceMonitor {
	return &ComplianceMonitor{
		store:   store,
		clock:   defaultClock(clk),
		emitter: emitter,
		watcher: watcher,
		policy:  policy,
		logger:  defaultLogger(logger),
	}
}

func (m *ComplianceMonitor) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, m.logger, "ComplianceMonitor", operation, attrs...)
}

// Check evaluates one shift now and notifies administrators on a notifiable
// verdict not reported before.
func (m *ComplianceMonitor) Check(ctx context.Context, shiftID string) (result ComplianceResult, err error) {
	if m == nil {
		return ComplianceResult{}, fmt.Errorf("ComplianceMonitor is nil")
	}
	started := time.Now()
	logger := m.loggerWith(ctx, "Check", "shift_id", shiftID)
	defer func() { logOutcome(ctx, logger, started, err, "shift checked", "verdict", string(result.Verdict)) }()

	shift, err := m.store.Reader().GetShift(ctx, shiftID)
	if err != nil {
		return ComplianceResult{}, mapStoreError(err, "shift")
	}
	return m.checkShift(ctx, logger, shift, m.clock.Now())
}

func (m *ComplianceMonitor) checkShift(ctx context.Context, logger *slog.Logger, shift persistence.Shift, now time.Time) (ComplianceResult, error) {
	eval, err := m.evaluate(ctx, m.store.Reader(), shift, now)
	if err != nil {
		return ComplianceResult{}, mapStoreError(err, "session")
	}
	result := ComplianceResult{
		ShiftID:     shift.ID,
		Verdict:     eval.Verdict,
		EvaluatedAt: now,
	}
	if eval.Earliest != nil {
		result.SessionID = eval.Earliest.SessionID
		result.LatenessMin = int(math.Round(eval.Lateness.Minutes()))
	}

	if shift.Status != persistence.ShiftActive || !eval.Verdict.Notifiable() || m.emitter == nil {
		return result, nil
	}
	n, err := m.notifyVerdict(ctx, shift, eval)
	if err != nil {
		logger.WarnContext(ctx, "verdict notification failed", "shift_id", shift.ID, "error", err, "error_kind", ErrorKind(err))
		return result, err
	}
	result.Notified = n
	return result, nil
}

// evaluate joins the shift with its user's sessions in the room inside the join window.
func (m *ComplianceMonitor) evaluate(ctx context.Context, repo persistence.Repository, shift persistence.Shift, now time.Time) (compliance.Evaluation, error) {
	interval := scheduler.NewInterval(shift.Start, shift.End)
	window := compliance.JoinWindow(interval, m.policy.ComplianceGrace)
	sessions, err := repo.ListSessions(ctx, persistence.SessionFilter{
		UserID: shift.UserID,
		RoomID: shift.RoomID,
		From:   window.Start,
		To:     window.End,
	})
	if err != nil {
		return compliance.Evaluation{}, err
	}
	attendance := make([]compliance.Attendance, len(sessions))
	for i, s := range sessions {
		attendance[i] = compliance.Attendance{SessionID: s.ID, Entry: s.EntryTime, Exit: s.ExitTime}
	}
	return compliance.Evaluate(interval, attendance, now, m.policy.ComplianceGrace), nil
}

func (m *ComplianceMonitor) notifyVerdict(ctx context.Context, shift persistence.Shift, eval compliance.Evaluation) (int, error) {
	reader := m.store.Reader()
	admins, err := verifiedAdminIDs(ctx, reader)
	if err != nil {
		return 0, mapStoreError(err, "user")
	}

	loc := m.clock.Location()
	name := shift.UserID
	if u, err := reader.GetUser(ctx, shift.UserID); err == nil {
		name = displayName(u)
	}
	room := shift.RoomID
	if r, err := reader.GetRoom(ctx, shift.RoomID); err == nil {
		room = roomLabel(r)
	}
	rng := clock.FormatRange(shift.Start, shift.End, loc)

	ev := Event{
		Kind:       persistence.KindShiftNonCompliance,
		Recipients: admins,
		RelatedID:  shift.ID,
		DedupKey:   string(eval.Verdict),
	}
	switch eval.Verdict {
	case compliance.VerdictNonCompliant:
		ev.Title = "Shift not attended"
		ev.Body = fmt.Sprintf("%s has not entered room %s for the shift %s.", name, room, rng)
	case compliance.VerdictLateCompliant:
		ev.Title = "Late shift arrival"
		ev.Body = fmt.Sprintf("%s entered room %s at %s, %d minutes after the start of the shift %s.",
			name, room, eval.Earliest.Entry.In(loc).Format("15:04"), int(math.Round(eval.Lateness.Minutes())), rng)
	}

	res, err := m.emitter.Emit(ctx, ev)
	if err != nil {
		return 0, err
	}
	return len(res.Notifications), nil
}

// RunSweep evaluates every active shift that started within the lookback,
// auto-closes sessions whose covering shifts ended, grades open sessions for
// excess hours, and emits the daily summary once the summary hour has passed.
// Failures on one item are counted and logged; the sweep stops only when ctx ends.
func (m *ComplianceMonitor) RunSweep(ctx context.Context) (report SweepReport, err error) {
	if m == nil {
		return SweepReport{}, fmt.Errorf("ComplianceMonitor is nil")
	}
	logger := m.loggerWith(ctx, "RunSweep")
	now := m.clock.Now()
	report = SweepReport{StartedAt: now, Verdicts: compliance.Tally{}}
	started := time.Now()
	defer func() {
		report.FinishedAt = m.clock.Now()
		logOutcome(ctx, logger, started, err, "compliance sweep finished",
			"evaluated", report.Evaluated,
			"notified", report.Notified,
			"auto_closed", report.AutoClosed,
			"excess_alerts", report.ExcessAlerts,
			"failures", report.Failures,
		)
	}()

	filter := persistence.ShiftFilter{
		Statuses:  []persistence.ShiftStatus{persistence.ShiftActive},
		StartedBy: now,
	}
	if m.policy.SweepLookback > 0 {
		filter.From = now.Add(-m.policy.SweepLookback)
	}
	shifts, err := m.store.Reader().ListShifts(ctx, filter)
	if err != nil {
		return report, mapStoreError(err, "shift")
	}

	for _, shift := range shifts {
		if err = interrupted(ctx); err != nil {
			return report, err
		}
		result, cerr := m.checkShift(ctx, logger, shift, now)
		if cerr != nil {
			report.Failures++
			logger.WarnContext(ctx, "shift evaluation failed", "shift_id", shift.ID, "error", cerr, "error_kind", ErrorKind(cerr))
			if result.Verdict == "" {
				continue
			}
		}
		report.Evaluated++
		report.Verdicts.Add(result.Verdict)
		report.Notified += result.Notified
	}

	if err = interrupted(ctx); err != nil {
		return report, err
	}
	open, err := m.store.Reader().ListSessions(ctx, persistence.SessionFilter{OpenOnly: true})
	if err != nil {
		return report, mapStoreError(err, "session")
	}
	for _, session := range open {
		if err = interrupted(ctx); err != nil {
			return report, err
		}
		closed, cerr := m.autoClose(ctx, session, now)
		if cerr != nil {
			report.Failures++
			logger.WarnContext(ctx, "auto close failed", "session_id", session.ID, "error", cerr, "error_kind", ErrorKind(cerr))
			continue
		}
		if closed != nil {
			report.AutoClosed++
			session = *closed
		}
		if m.watcher == nil {
			continue
		}
		excess, werr := m.watcher.EvaluateSession(ctx, session)
		if werr != nil {
			report.Failures++
			continue
		}
		if excess.Level >= compliance.LevelAlert && excess.Notified > 0 {
			report.ExcessAlerts++
		}
	}

	// A negative summary hour disables the daily summary.
	if m.policy.DailySummaryHour >= 0 && now.In(m.clock.Location()).Hour() >= m.policy.DailySummaryHour {
		if err = interrupted(ctx); err != nil {
			return report, err
		}
		date := now.In(m.clock.Location()).Format(clock.DateLayout)
		summary, serr := m.DailySummary(ctx, date)
		switch {
		case serr != nil:
			report.Failures++
		case summary.Notified > 0:
			report.SummaryDate = date
			report.Notified += summary.Notified
		}
	}
	return report, nil
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindTimeout, Message: "the sweep was interrupted", Err: err}
	}
	return nil
}

// coveringEnd finds the shift covering the session entry, allowing the entry
// grace, and follows touching shifts of the same user and room to the end of
// the chain. ok is false when no shift covers the entry.
func (m *ComplianceMonitor) coveringEnd(ctx context.Context, repo persistence.Repository, session persistence.RoomSession) (end time.Time, ok bool, err error) {
	rows, err := repo.ListShifts(ctx, persistence.ShiftFilter{
		UserID:    session.UserID,
		RoomID:    session.RoomID,
		Statuses:  []persistence.ShiftStatus{persistence.ShiftActive},
		From:      session.EntryTime,
		StartedBy: session.EntryTime.Add(m.policy.EntryGrace),
	})
	if err != nil || len(rows) == 0 {
		return time.Time{}, false, err
	}
	end = rows[0].End
	// Exclusivity keeps any chain short; the bound guards against bad data.
	for i := 0; i < 64; i++ {
		next, err := repo.ListShifts(ctx, persistence.ShiftFilter{
			UserID:    session.UserID,
			RoomID:    session.RoomID,
			Statuses:  []persistence.ShiftStatus{persistence.ShiftActive},
			From:      end,
			StartedBy: end,
		})
		if err != nil {
			return time.Time{}, false, err
		}
		extended := false
		for _, s := range next {
			if s.End.After(end) {
				end = s.End
				extended = true
			}
		}
		if !extended {
			break
		}
	}
	return end, true, nil
}

// autoClose closes session at the end of its covering shift chain when that
// end has passed. It returns nil when the session stays open.
func (m *ComplianceMonitor) autoClose(ctx context.Context, session persistence.RoomSession, now time.Time) (*persistence.RoomSession, error) {
	end, ok, err := m.coveringEnd(ctx, m.store.Reader(), session)
	if err != nil {
		return nil, mapStoreError(err, "shift")
	}
	if !ok || end.After(now) || !session.EntryTime.Before(end) {
		return nil, nil
	}

	var closed *persistence.RoomSession
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		if err := tx.LockUser(ctx, session.UserID); err != nil {
			return err
		}
		if err := tx.LockSession(ctx, session.ID); err != nil {
			return err
		}
		current, err := tx.GetSession(ctx, session.ID)
		if err != nil {
			return err
		}
		if !current.Open() {
			return nil
		}
		exit := end
		current.ExitTime = &exit
		current.Notes = appendNote(current.Notes, fmt.Sprintf("%s shift ended at %s", AutoCloseNote, clock.Format(end, m.clock.Location())))
		current.UpdatedAt = now
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		closed = &current
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "session")
	}
	return closed, nil
}

// DailySummary aggregates the verdicts of the shifts that started on date
// (YYYY-MM-DD, local) and, when any is non-compliant, notifies every verified
// administrator once per day.
func (m *ComplianceMonitor) DailySummary(ctx context.Context, date string) (summary DailySummary, err error) {
	if m == nil {
		return DailySummary{}, fmt.Errorf("ComplianceMonitor is nil")
	}
	started := time.Now()
	logger := m.loggerWith(ctx, "DailySummary", "date", date)
	defer func() {
		logOutcome(ctx, logger, started, err, "daily summary computed",
			"non_compliant", len(summary.NonCompliant),
			"notified", summary.Notified,
		)
	}()

	loc := m.clock.Location()
	day, perr := clock.ParseDate(date, loc)
	if perr != nil {
		vErr := &ValidationError{}
		vErr.add("date", "date must use YYYY-MM-DD")
		return DailySummary{}, vErr
	}
	dayStart, dayEnd := clock.DayBounds(day, loc)
	summary = DailySummary{Date: day.Format(clock.DateLayout), Verdicts: compliance.Tally{}}

	reader := m.store.Reader()
	shifts, err := reader.ListShifts(ctx, persistence.ShiftFilter{
		Statuses: []persistence.ShiftStatus{persistence.ShiftActive, persistence.ShiftCompleted},
		From:     dayStart,
		To:       dayEnd,
	})
	if err != nil {
		return summary, mapStoreError(err, "shift")
	}

	now := m.clock.Now()
	window := scheduler.NewInterval(dayStart, dayEnd)
	for _, shift := range shifts {
		if !window.Contains(shift.Start) {
			continue
		}
		if err = interrupted(ctx); err != nil {
			return summary, err
		}
		eval, eerr := m.evaluate(ctx, reader, shift, now)
		if eerr != nil {
			return summary, mapStoreError(eerr, "session")
		}
		summary.Verdicts.Add(eval.Verdict)
		if eval.Verdict == compliance.VerdictNonCompliant {
			summary.NonCompliant = append(summary.NonCompliant, shift.ID)
		}
	}

	if len(summary.NonCompliant) == 0 || m.emitter == nil {
		return summary, nil
	}
	admins, err := verifiedAdminIDs(ctx, reader)
	if err != nil {
		return summary, mapStoreError(err, "user")
	}

	parts := make([]string, 0, len(compliance.Verdicts))
	for _, v := range compliance.Verdicts {
		if n := summary.Verdicts[v]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, v))
		}
	}
	res, err := m.emitter.Emit(ctx, Event{
		Kind:       persistence.KindDailySummary,
		Recipients: admins,
		Title:      "Daily compliance summary " + summary.Date,
		Body: fmt.Sprintf("%s: %d shifts evaluated (%s).",
			summary.Date, summary.Verdicts.Total(), strings.Join(parts, ", ")),
		RelatedID: summary.Date,
		DedupKey:  "daily-summary:" + summary.Date,
	})
	if err != nil {
		return summary, err
	}
	summary.Notified = len(res.Notifications)
	return summary, nil
}

// Run sweeps immediately and then every interval until ctx ends.
func (m *ComplianceMonitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("compliance sweep interval must be positive")
	}
	logger := m.loggerWith(ctx, "Run", "interval", interval.String())
	logger.InfoContext(ctx, "compliance sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := m.RunSweep(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "compliance sweep failed", "error", err, "error_kind", ErrorKind(err))
		}
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "compliance sweeper stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
