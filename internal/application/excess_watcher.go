package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/compliance"
	"github.com/example/shift-compliance/internal/persistence"
)

// ExcessResult is the outcome of one excess-hours evaluation.
type ExcessResult struct {
	SessionID  string
	Duration   time.Duration
	Hours      decimal.Decimal
	Level      compliance.Level
	Notified   int
	Suppressed bool
}

// ExcessHoursWatcher grades sessions against the excess thresholds and alerts
// on crossings. Warnings go to the session's user; alerts go to every verified
// administrator.
type ExcessHoursWatcher struct {
	store   persistence.Store
	clock   clock.Clock
	emitter *NotificationEmitter
	policy  Policy
	logger  *slog.Logger
}

// NewExcessHoursWatcher constructs a watcher.
func NewExcessHoursWatcher(store persistence.Store, clk clock.Clock, emitter *NotificationEmitter, policy Policy) *ExcessHoursWatcher {
	return NewExcessHoursWatcherWithLogger(store, clk, emitter, policy, nil)
}

// NewExcessHoursWatcherWithLogger constructs a watcher with a specified logger.
func NewExcessHoursWatcherWithLogger(store persistence.Store, clk clock.Clock, emitter *NotificationEmitter, policy Policy, logger *slog.Logger) *ExcessHoursWatcher {
	return &ExcessHoursWatcher{
		store:   store,
		clock:   defaultClock(clk),
		emitter: emitter,
		policy:  policy,
		logger:  defaultLogger(logger),
	}
}

// Evaluate loads a session and evaluates it.
func (w *ExcessHoursWatcher) Evaluate(ctx context.Context, sessionID string) (ExcessResult, error) {
	session, err := w.store.Reader().GetSession(ctx, sessionID)
	if err != nil {
		return ExcessResult{}, mapStoreError(err, "session")
	}
	return w.EvaluateSession(ctx, session)
}

// EvaluateSession grades an open or closed session at the current instant.
func (w *ExcessHoursWatcher) EvaluateSession(ctx context.Context, session persistence.RoomSession) (result ExcessResult, err error) {
	if w == nil {
		return ExcessResult{}, fmt.Errorf("ExcessHoursWatcher is nil")
	}
	now := w.clock.Now()
	d := compliance.SessionDuration(session.EntryTime, session.ExitTime, now)
	result = ExcessResult{
		SessionID: session.ID,
		Duration:  d,
		Hours:     compliance.Hours(d),
		Level:     w.policy.Thresholds.Classify(d),
	}
	if result.Level == compliance.LevelNone {
		return result, nil
	}

	logger := serviceLogger(ctx, w.logger, "ExcessHoursWatcher", "EvaluateSession",
		"session_id", session.ID,
		"level", result.Level.String(),
	)

	reader := w.store.Reader()
	name := session.UserID
	if u, err := reader.GetUser(ctx, session.UserID); err == nil {
		name = displayName(u)
	}
	roomName := session.RoomID
	if r, err := reader.GetRoom(ctx, session.RoomID); err == nil {
		roomName = roomLabel(r)
	}

	state := "has been"
	if !session.Open() {
		state = "was"
	}
	body := fmt.Sprintf("%s %s in room %s for %s h since %s.",
		name, state, roomName, result.Hours.StringFixed(2), clock.Format(session.EntryTime, w.clock.Location()))

	ev := Event{
		RelatedID:   session.ID,
		DedupKey:    w.policy.Thresholds.Key(result.Level),
		DedupWindow: w.policy.ExcessDedupWindow,
		Body:        body,
	}
	switch result.Level {
	case compliance.LevelWarning:
		ev.Kind = persistence.KindExcessiveHoursWarn
		ev.Title = "Long room session"
		ev.Recipients = []string{session.UserID}
	default:
		admins, err := verifiedAdminIDs(ctx, reader)
		if err != nil {
			return result, mapStoreError(err, "user")
		}
		ev.Kind = persistence.KindExcessiveHours
		ev.Title = "Excessive hours"
		if result.Level == compliance.LevelCritical {
			ev.Title = "Excessive hours (critical)"
		}
		ev.Recipients = admins
	}

	if w.emitter == nil {
		return result, nil
	}
	emitted, err := w.emitter.Emit(ctx, ev)
	if err != nil {
		logger.WarnContext(ctx, "excess hours notification failed", "error", err, "error_kind", ErrorKind(err))
		return result, err
	}
	result.Suppressed = emitted.Suppressed
	result.Notified = len(emitted.Notifications)
	return result, nil
}
