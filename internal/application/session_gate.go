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
)

// GraceEntryNote prefixes the notes of sessions opened ahead of their shift.
const GraceEntryNote = "[grace-pre-entry]"

// SessionGate enforces the room entry and exit rules.
type SessionGate struct {
	store       persistence.Store
	clock       clock.Clock
	idGenerator func() string
	policy      Policy
	watcher     *ExcessHoursWatcher
	logger      *slog.Logger
}

// NewSessionGate constructs a gate. watcher may be nil, which skips the
// post-exit excess evaluation.
func NewSessionGate(store persistence.Store, clk clock.Clock, idGenerator func() string, policy Policy, watcher *ExcessHoursWatcher) *SessionGate {
	return NewSessionGateWithLogger(store, clk, idGenerator, policy, watcher, nil)
}

// NewSessionGateWithLogger constructs a gate with a specified logger.
func NewSessionGateWithLogger(store persistence.Store, clk clock.Clock, idGenerator func() string, policy Policy, watcher *ExcessHoursWatcher, logger *slog.Logger) *SessionGate {
	return &SessionGate{
		store:       store,
		clock:       defaultClock(clk),
		idGenerator: defaultIDGenerator(idGenerator),
		policy:      policy,
		watcher:     watcher,
		logger:      defaultLogger(logger),
	}
}

// Enter opens a session for userID in roomID at the current instant.
func (g *SessionGate) Enter(ctx context.Context, userID, roomID, notes string) (view SessionView, err error) {
	if g == nil {
		return SessionView{}, fmt.Errorf("SessionGate is nil")
	}
	started := time.Now()
	logger := serviceLogger(ctx, g.logger, "SessionGate", "Enter",
		"user_id", userID,
		"room_id", roomID,
	)
	defer func() {
		logOutcome(ctx, logger, started, err, "room entered", "session_id", view.ID)
	}()

	if vErr := requireFields(map[string]string{"user_id": userID, "room_id": roomID}); vErr.HasErrors() {
		err = vErr
		return
	}

	now := g.clock.Now()
	var session persistence.RoomSession
	err = g.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return notFoundAs(err, "user", userID)
		}
		decision, err := g.decide(ctx, tx, userID, roomID, now)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return decisionError(decision)
		}

		note := strings.TrimSpace(notes)
		if decision.Grace {
			note = strings.TrimSpace(GraceEntryNote + " " + note)
		}
		session = persistence.RoomSession{
			ID:        g.idGenerator(),
			UserID:    userID,
			RoomID:    roomID,
			EntryTime: now,
			Notes:     note,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.CreateSession(ctx, session)
	})
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			err = &Error{Kind: KindAlreadyIn, Message: "the user already has an open room session", Err: err}
			return
		}
		err = mapStoreError(err, "session")
		return
	}
	return newSessionView(session, now), nil
}

// Exit closes one of the user's sessions and hands it to the excess watcher.
func (g *SessionGate) Exit(ctx context.Context, userID, sessionID, notes string) (view SessionView, err error) {
	if g == nil {
		return SessionView{}, fmt.Errorf("SessionGate is nil")
	}
	started := time.Now()
	logger := serviceLogger(ctx, g.logger, "SessionGate", "Exit",
		"user_id", userID,
		"session_id", sessionID,
	)
	defer func() {
		logOutcome(ctx, logger, started, err, "room exited", "duration_hours", view.DurationHours.String())
	}()

	now := g.clock.Now()
	var session persistence.RoomSession
	err = g.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return notFoundAs(err, "user", userID)
		}
		if err := tx.LockSession(ctx, sessionID); err != nil {
			return notFoundAs(err, "session", sessionID)
		}
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return notFoundAs(err, "session", sessionID)
		}
		if current.UserID != userID {
			return newError(KindNotFound, "session %s not found", sessionID).WithDetail("session_id", sessionID)
		}
		if !current.Open() {
			return g.alreadyClosed(ctx, tx, current)
		}
		if !now.After(current.EntryTime) {
			return newError(KindBadInterval, "exit time must be after the entry time").
				WithDetail("entry_time", current.EntryTime)
		}

		exit := now
		current.ExitTime = &exit
		current.Notes = appendNote(current.Notes, notes)
		current.UpdatedAt = now
		if err := tx.UpdateSession(ctx, current); err != nil {
			return err
		}
		session = current
		return nil
	})
	if err != nil {
		err = mapStoreError(err, "session")
		return
	}

	if g.watcher != nil {
		if _, werr := g.watcher.EvaluateSession(ctx, session); werr != nil {
			logger.WarnContext(ctx, "excess hours evaluation failed", "error", werr, "error_kind", ErrorKind(werr))
		}
	}
	return newSessionView(session, now), nil
}

func (g *SessionGate) alreadyClosed(ctx context.Context, repo persistence.Repository, session persistence.RoomSession) error {
	appErr := newError(KindAlreadyClosed, "session %s is already closed", session.ID).
		WithDetail("session_id", session.ID).
		WithDetail("exit_time", *session.ExitTime)
	open, err := repo.ListSessions(ctx, persistence.SessionFilter{UserID: session.UserID, OpenOnly: true})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		appErr.WithDetail("open_session_id", open[0].ID).WithDetail("open_session_room_id", open[0].RoomID)
		appErr.Suggestion = "exit the open session " + open[0].ID + " instead"
	}
	return appErr
}

// Active returns the user's open session, or nil when there is none.
func (g *SessionGate) Active(ctx context.Context, userID string) (*SessionView, error) {
	open, err := g.store.Reader().ListSessions(ctx, persistence.SessionFilter{UserID: userID, OpenOnly: true})
	if err != nil {
		return nil, mapStoreError(err, "session")
	}
	if len(open) == 0 {
		return nil, nil
	}
	view := newSessionView(open[0], g.clock.Now())
	return &view, nil
}

// History lists the user's sessions overlapping the inclusive local date range,
// most recent entry first.
func (g *SessionGate) History(ctx context.Context, userID, dateFrom, dateTo string, page PageRequest) (Page[SessionView], error) {
	from, to, err := dateWindow(dateFrom, dateTo, g.clock.Location())
	if err != nil {
		return Page[SessionView]{}, err
	}
	rows, err := g.store.Reader().ListSessions(ctx, persistence.SessionFilter{UserID: userID, From: from, To: to})
	if err != nil {
		return Page[SessionView]{}, mapStoreError(err, "session")
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	now := g.clock.Now()
	return MapPage(Paginate(rows, page), func(s persistence.RoomSession) SessionView {
		return newSessionView(s, now)
	}), nil
}

// ValidateAccess reports whether userID could enter roomID at at without
// writing anything. A zero at means now.
func (g *SessionGate) ValidateAccess(ctx context.Context, userID, roomID string, at time.Time) (AccessDecision, error) {
	if at.IsZero() {
		at = g.clock.Now()
	}
	decision, err := g.decide(ctx, g.store.Reader(), userID, roomID, at)
	if err != nil {
		return AccessDecision{}, mapStoreError(err, "room")
	}
	return decision, nil
}

// decide evaluates the entry rules in order: open session, room, covering
// shift, grace window. Refusals carry diagnostic hints.
func (g *SessionGate) decide(ctx context.Context, repo persistence.Repository, userID, roomID string, at time.Time) (AccessDecision, error) {
	open, err := repo.ListSessions(ctx, persistence.SessionFilter{UserID: userID, OpenOnly: true})
	if err != nil {
		return AccessDecision{}, err
	}
	if len(open) > 0 {
		return AccessDecision{
			Reason:  KindAlreadyIn,
			Message: "the user already has an open room session",
			Hints:   AccessHints{OpenSessionID: open[0].ID, OpenSessionRoomID: open[0].RoomID},
		}, nil
	}

	room, err := repo.GetRoom(ctx, roomID)
	if err != nil {
		return AccessDecision{}, notFoundAs(err, "room", roomID)
	}
	if !room.Active {
		return AccessDecision{Reason: KindInactiveRoom, Message: fmt.Sprintf("room %s is not active", roomLabel(room))}, nil
	}

	covering, err := repo.ListShifts(ctx, persistence.ActiveShiftsAt(at, userID, roomID))
	if err != nil {
		return AccessDecision{}, err
	}
	if len(covering) > 0 {
		return AccessDecision{Allowed: true, ShiftID: covering[0].ID}, nil
	}

	if g.policy.EntryGrace > 0 {
		soon, err := g.nextShift(ctx, repo, userID, roomID, at, g.policy.EntryGrace)
		if err != nil {
			return AccessDecision{}, err
		}
		if soon != nil {
			return AccessDecision{
				Allowed: true,
				Grace:   true,
				ShiftID: soon.ID,
				Hints:   AccessHints{UpcomingShiftID: soon.ID, MinutesUntilShift: minutesUntil(at, soon.Start)},
			}, nil
		}
	}

	decision := AccessDecision{Reason: KindNoShift}
	loc := g.clock.Location()
	decision.Message = fmt.Sprintf("no active shift covers room %s at %s", roomLabel(room), clock.Format(at, loc))

	if g.policy.UpcomingHint > 0 {
		upcoming, err := g.nextShift(ctx, repo, userID, roomID, at, g.policy.UpcomingHint)
		if err != nil {
			return AccessDecision{}, err
		}
		if upcoming != nil {
			decision.Hints.UpcomingShiftID = upcoming.ID
			decision.Hints.MinutesUntilShift = minutesUntil(at, upcoming.Start)
			decision.Message += fmt.Sprintf("; the next shift starts in %d minutes", decision.Hints.MinutesUntilShift)
		}
	}

	current, err := repo.ListShifts(ctx, persistence.ActiveShiftsAt(at, userID, ""))
	if err != nil {
		return AccessDecision{}, err
	}
	for _, s := range current {
		if s.RoomID == roomID {
			continue
		}
		decision.Hints.OtherRoomShiftID = s.ID
		decision.Hints.OtherRoomID = s.RoomID
		label := s.RoomID
		if r, err := repo.GetRoom(ctx, s.RoomID); err == nil {
			label = roomLabel(r)
		}
		decision.Message += fmt.Sprintf("; the user is scheduled in room %s right now", label)
		break
	}
	return decision, nil
}

// nextShift returns the soonest active shift starting in (at, at+within].
func (g *SessionGate) nextShift(ctx context.Context, repo persistence.Repository, userID, roomID string, at time.Time, within time.Duration) (*persistence.Shift, error) {
	rows, err := repo.ListShifts(ctx, persistence.ShiftFilter{
		UserID:      userID,
		RoomID:      roomID,
		Statuses:    []persistence.ShiftStatus{persistence.ShiftActive},
		StartsAfter: at,
		StartedBy:   at.Add(within),
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func minutesUntil(from, to time.Time) int {
	return int(math.Ceil(to.Sub(from).Minutes()))
}

// decisionError converts a refusal into the typed error callers receive.
func decisionError(d AccessDecision) *Error {
	e := &Error{Kind: d.Reason, Message: d.Message}
	switch d.Reason {
	case KindAlreadyIn:
		e.WithDetail("open_session_id", d.Hints.OpenSessionID).
			WithDetail("open_session_room_id", d.Hints.OpenSessionRoomID)
		e.Suggestion = "exit the open session first"
	case KindNoShift:
		e.WithDetail("upcoming_shift", d.Hints.UpcomingShiftID != "")
		if d.Hints.UpcomingShiftID != "" {
			e.WithDetail("upcoming_shift_id", d.Hints.UpcomingShiftID).
				WithDetail("minutes_until_shift", d.Hints.MinutesUntilShift)
		}
		e.WithDetail("shift_in_other_room", d.Hints.OtherRoomShiftID != "")
		if d.Hints.OtherRoomShiftID != "" {
			e.WithDetail("other_room_id", d.Hints.OtherRoomID).
				WithDetail("other_room_shift_id", d.Hints.OtherRoomShiftID)
		}
	}
	return e
}

func newSessionView(s persistence.RoomSession, now time.Time) SessionView {
	d := compliance.SessionDuration(s.EntryTime, s.ExitTime, now)
	return SessionView{RoomSession: s, Duration: d, DurationHours: compliance.Hours(d)}
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return existing
	case existing == "":
		return note
	default:
		return existing + "\n" + note
	}
}
