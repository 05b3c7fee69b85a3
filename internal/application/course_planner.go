package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/persistence"
)

// CoursePlanner places courses inside monitor shifts and keeps their history.
type CoursePlanner struct {
	store       persistence.Store
	clock       clock.Clock
	idGenerator func() string
	policy      Policy
	emitter     *NotificationEmitter
	logger      *slog.Logger
}

// NewCoursePlanner constructs a planner. emitter may be nil, which skips the
// course-history notifications.
func NewCoursePlanner(store persistence.Store, clk clock.Clock, idGenerator func() string, policy Policy, emitter *NotificationEmitter) *CoursePlanner {
	return NewCoursePlannerWithLogger(store, clk, idGenerator, policy, emitter, nil)
}

// NewCoursePlannerWithLogger constructs a planner with a specified logger.
func NewCoursePlannerWithLogger(store persistence.Store, clk clock.Clock, idGenerator func() string, policy Policy, emitter *NotificationEmitter, logger *slog.Logger) *CoursePlanner {
	return &CoursePlanner{
		store:       store,
		clock:       defaultClock(clk),
		idGenerator: defaultIDGenerator(idGenerator),
		policy:      policy,
		emitter:     emitter,
		logger:      defaultLogger(logger),
	}
}

func (p *CoursePlanner) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, p.logger, "CoursePlanner", operation, attrs...)
}

// courseChange is what a committed mutation reports to the notifier.
type courseChange struct {
	action    persistence.HistoryAction
	course    persistence.Course
	monitorID string
	fields    []string
}

// Create validates placement and stores a scheduled course with its create entry.
func (p *CoursePlanner) Create(ctx context.Context, principal Principal, input CourseInput) (course persistence.Course, err error) {
	if p == nil {
		return persistence.Course{}, fmt.Errorf("CoursePlanner is nil")
	}
	started := time.Now()
	logger := p.loggerWith(ctx, "Create",
		"principal_id", principal.UserID,
		"shift_id", input.ShiftID,
		"room_id", input.RoomID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "course created", "course_id", course.ID) }()

	if err = requireAdmin(principal); err != nil {
		return
	}
	if vErr := requireFields(map[string]string{"name": input.Name, "room_id": input.RoomID, "shift_id": input.ShiftID}); vErr.HasErrors() {
		err = vErr
		return
	}

	now := p.clock.Now()
	candidate := persistence.Course{
		ID:          p.idGenerator(),
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		RoomID:      strings.TrimSpace(input.RoomID),
		ShiftID:     strings.TrimSpace(input.ShiftID),
		Start:       input.Start,
		End:         input.End,
		Status:      persistence.CourseScheduled,
		CreatedBy:   principal.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var change courseChange
	err = p.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		shift, err := p.validate(ctx, tx, candidate, "")
		if err != nil {
			return err
		}
		if err := tx.CreateCourse(ctx, candidate); err != nil {
			return err
		}
		after := CourseAttributes(candidate)
		if err := appendHistory(ctx, tx, p.idGenerator, candidate.ID, persistence.HistoryCreate, nil, after, principal.UserID, now); err != nil {
			return err
		}
		change = courseChange{action: persistence.HistoryCreate, course: candidate, monitorID: shift.UserID}
		return nil
	})
	if err != nil {
		return persistence.Course{}, mapStoreError(err, "course")
	}
	p.notify(ctx, logger, change)
	return candidate, nil
}

// Update applies patch. Placement is re-validated whenever the result still
// claims its room.
func (p *CoursePlanner) Update(ctx context.Context, principal Principal, courseID string, patch CoursePatch) (course persistence.Course, err error) {
	if p == nil {
		return persistence.Course{}, fmt.Errorf("CoursePlanner is nil")
	}
	started := time.Now()
	logger := p.loggerWith(ctx, "Update",
		"principal_id", principal.UserID,
		"course_id", courseID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "course updated", "status", string(course.Status)) }()

	if err = requireAdmin(principal); err != nil {
		return
	}

	now := p.clock.Now()
	var change courseChange
	err = p.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		existing, err := p.lockCourse(ctx, tx, courseID, patch.RoomID, patch.ShiftID)
		if err != nil {
			return err
		}
		if err := requireOwner(p.policy, principal, existing.CreatedBy); err != nil {
			return err
		}

		updated := applyCoursePatch(existing, patch)
		if err := checkCourseTransition(existing.Status, updated.Status); err != nil {
			return err
		}
		if vErr := requireFields(map[string]string{"name": updated.Name, "room_id": updated.RoomID, "shift_id": updated.ShiftID}); vErr.HasErrors() {
			return vErr
		}

		monitorID := ""
		if updated.Status.Blocking() {
			shift, err := p.validate(ctx, tx, updated, updated.ID)
			if err != nil {
				return err
			}
			monitorID = shift.UserID
		} else {
			if err := p.validateStructure(updated); err != nil {
				return err
			}
			if shift, err := tx.GetShift(ctx, updated.ShiftID); err == nil {
				monitorID = shift.UserID
			}
		}

		updated.UpdatedAt = now
		if err := tx.UpdateCourse(ctx, updated); err != nil {
			return err
		}
		before, after := CourseAttributes(existing), CourseAttributes(updated)
		if err := appendHistory(ctx, tx, p.idGenerator, updated.ID, persistence.HistoryUpdate, before, after, principal.UserID, now); err != nil {
			return err
		}
		course = updated
		change = courseChange{
			action:    persistence.HistoryUpdate,
			course:    updated,
			monitorID: monitorID,
			fields:    ChangedFields(diffAttributes(before, after)),
		}
		return nil
	})
	if err != nil {
		return persistence.Course{}, mapStoreError(err, "course")
	}
	p.notify(ctx, logger, change)
	return course, nil
}

// Delete removes a course and appends its delete entry.
func (p *CoursePlanner) Delete(ctx context.Context, principal Principal, courseID string) (err error) {
	if p == nil {
		return fmt.Errorf("CoursePlanner is nil")
	}
	started := time.Now()
	logger := p.loggerWith(ctx, "Delete",
		"principal_id", principal.UserID,
		"course_id", courseID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "course deleted") }()

	if err = requireAdmin(principal); err != nil {
		return
	}

	now := p.clock.Now()
	var change courseChange
	err = p.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		existing, err := p.lockCourse(ctx, tx, courseID, nil, nil)
		if err != nil {
			return err
		}
		if err := requireOwner(p.policy, principal, existing.CreatedBy); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, p.idGenerator, existing.ID, persistence.HistoryDelete, CourseAttributes(existing), nil, principal.UserID, now); err != nil {
			return err
		}
		if err := tx.DeleteCourse(ctx, existing.ID); err != nil {
			return err
		}
		change = courseChange{action: persistence.HistoryDelete, course: existing}
		if shift, err := tx.GetShift(ctx, existing.ShiftID); err == nil {
			change.monitorID = shift.UserID
		}
		return nil
	})
	if err != nil {
		return mapStoreError(err, "course")
	}
	p.notify(ctx, logger, change)
	return nil
}

// Get returns one course with its status refreshed from now.
func (p *CoursePlanner) Get(ctx context.Context, courseID string) (persistence.Course, error) {
	c, err := p.store.Reader().GetCourse(ctx, courseID)
	if err != nil {
		return persistence.Course{}, mapStoreError(err, "course")
	}
	c.Status = c.EffectiveStatus(p.clock.Now())
	return c, nil
}

// List filters courses by room, shift, derived status and local date range.
func (p *CoursePlanner) List(ctx context.Context, query CourseQuery) (Page[persistence.Course], error) {
	from, to, err := dateWindow(query.DateFrom, query.DateTo, p.clock.Location())
	if err != nil {
		return Page[persistence.Course]{}, err
	}
	switch query.Status {
	case "", persistence.CourseScheduled, persistence.CourseInProgress, persistence.CourseCompleted, persistence.CourseCancelled:
	default:
		vErr := &ValidationError{}
		vErr.add("status", "status must be scheduled, in_progress, completed or cancelled")
		return Page[persistence.Course]{}, vErr
	}

	rows, err := p.store.Reader().ListCourses(ctx, persistence.CourseFilter{
		RoomID:  strings.TrimSpace(query.RoomID),
		ShiftID: strings.TrimSpace(query.ShiftID),
		From:    from,
		To:      to,
	})
	if err != nil {
		return Page[persistence.Course]{}, mapStoreError(err, "course")
	}

	now := p.clock.Now()
	out := make([]persistence.Course, 0, len(rows))
	for _, c := range rows {
		c.Status = c.EffectiveStatus(now)
		if query.Status != "" && c.Status != query.Status {
			continue
		}
		out = append(out, c)
	}
	return Paginate(out, query.Page), nil
}

// History returns the append-only history of a course, oldest first. It
// outlives the course itself.
func (p *CoursePlanner) History(ctx context.Context, courseID string) ([]persistence.CourseHistoryEntry, error) {
	reader := p.store.Reader()
	entries, err := reader.ListCourseHistory(ctx, courseID)
	if err != nil {
		return nil, mapStoreError(err, "course")
	}
	if len(entries) == 0 {
		if _, err := reader.GetCourse(ctx, courseID); err != nil {
			return nil, mapStoreError(err, "course")
		}
	}
	return entries, nil
}

// lockCourse locks the rooms and shifts a course touches, in that order, and
// re-reads it under the locks.
func (p *CoursePlanner) lockCourse(ctx context.Context, tx persistence.Repository, courseID string, roomID, shiftID *string) (persistence.Course, error) {
	current, err := tx.GetCourse(ctx, courseID)
	if err != nil {
		return persistence.Course{}, err
	}
	for _, id := range uniqueStrings([]string{current.RoomID, deref(roomID)}) {
		if err := tx.LockRoom(ctx, id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return persistence.Course{}, err
		}
	}
	for _, id := range uniqueStrings([]string{current.ShiftID, deref(shiftID)}) {
		if err := tx.LockShift(ctx, id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return persistence.Course{}, err
		}
	}
	return tx.GetCourse(ctx, courseID)
}

func applyCoursePatch(c persistence.Course, patch CoursePatch) persistence.Course {
	if patch.Name != nil {
		c.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		c.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.RoomID != nil {
		c.RoomID = strings.TrimSpace(*patch.RoomID)
	}
	if patch.ShiftID != nil {
		c.ShiftID = strings.TrimSpace(*patch.ShiftID)
	}
	if patch.Start != nil {
		c.Start = *patch.Start
	}
	if patch.End != nil {
		c.End = *patch.End
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	return c
}

// checkCourseTransition keeps terminal statuses terminal.
func checkCourseTransition(from, to persistence.CourseStatus) error {
	switch to {
	case persistence.CourseScheduled, persistence.CourseInProgress, persistence.CourseCompleted, persistence.CourseCancelled:
	default:
		vErr := &ValidationError{}
		vErr.add("status", "status must be scheduled, in_progress, completed or cancelled")
		return vErr
	}
	if from.Terminal() && to != from {
		vErr := &ValidationError{}
		vErr.add("status", fmt.Sprintf("a %s course cannot change status", from))
		return vErr
	}
	return nil
}

func (p *CoursePlanner) validateStructure(c persistence.Course) error {
	loc := p.clock.Location()
	interval := courseInterval(c)
	if !interval.Valid() {
		return newError(KindBadInterval, "course end %s must be after its start %s",
			clock.Format(c.End, loc), clock.Format(c.Start, loc)).
			WithDetail("start", c.Start).WithDetail("end", c.End)
	}
	if limit := p.policy.MaxCourseDuration; limit > 0 && interval.Duration() > limit {
		return newError(KindTooLong, "course %s lasts %s, longer than the %s maximum",
			clock.FormatRange(c.Start, c.End, loc), interval.Duration(), limit).
			WithDetail("max_hours", limit.Hours())
	}
	return nil
}

// validate runs the placement pipeline and returns the assigned shift.
func (p *CoursePlanner) validate(ctx context.Context, tx persistence.Repository, c persistence.Course, excludeID string) (persistence.Shift, error) {
	if err := p.validateStructure(c); err != nil {
		return persistence.Shift{}, err
	}

	if err := tx.LockRoom(ctx, c.RoomID); err != nil {
		return persistence.Shift{}, notFoundAs(err, "room", c.RoomID)
	}
	if err := tx.LockShift(ctx, c.ShiftID); err != nil {
		return persistence.Shift{}, notFoundAs(err, "shift", c.ShiftID)
	}
	shift, err := tx.GetShift(ctx, c.ShiftID)
	if err != nil {
		return persistence.Shift{}, notFoundAs(err, "shift", c.ShiftID)
	}

	loc := p.clock.Location()
	if !shiftInterval(shift).Covers(courseInterval(c)) {
		return shift, &Error{
			Kind: KindShiftDoesNotCover,
			Message: fmt.Sprintf("shift %s does not cover course interval %s",
				clock.FormatRange(shift.Start, shift.End, loc), clock.FormatRange(c.Start, c.End, loc)),
			Details: map[string]any{
				"shift_id":    shift.ID,
				"shift_start": shift.Start,
				"shift_end":   shift.End,
			},
			Suggestion: "move the course inside the shift or pick another shift",
		}
	}
	if shift.RoomID != c.RoomID {
		return shift, newError(KindRoomMismatch, "shift %s is in a different room than the course", shift.ID).
			WithDetail("shift_room_id", shift.RoomID).WithDetail("course_room_id", c.RoomID)
	}
	if shift.Status != persistence.ShiftActive {
		return shift, newError(KindShiftInactive, "shift %s is %s", shift.ID, shift.Status).
			WithDetail("shift_status", string(shift.Status))
	}

	monitor, err := tx.GetUser(ctx, shift.UserID)
	if err != nil {
		return shift, notFoundAs(err, "monitor", shift.UserID)
	}
	if !monitor.IsVerifiedMonitor() {
		return shift, newError(KindUnverified, "%s is not a verified monitor", displayName(monitor)).
			WithDetail("user_id", monitor.ID)
	}

	conflicts, err := NewOverlapIndex(tx).CoursesOverlapping(ctx, c.RoomID, c.Start, c.End, excludeID)
	if err != nil {
		return shift, err
	}
	if len(conflicts) > 0 {
		other := conflicts[0]
		return shift, &Error{
			Kind: KindRoomConflict,
			Message: fmt.Sprintf("course %q already uses the room during %s",
				other.Name, clock.FormatRange(other.Start, other.End, loc)),
			Details: map[string]any{
				"conflicting_course_id": other.ID,
				"start":                 other.Start,
				"end":                   other.End,
			},
			Suggestion: "choose a non-overlapping interval",
		}
	}
	return shift, nil
}

// notify tells the course's monitor about a committed mutation. Failures are
// logged only.
func (p *CoursePlanner) notify(ctx context.Context, logger *slog.Logger, change courseChange) {
	if p.emitter == nil || change.monitorID == "" {
		return
	}
	c := change.course
	rng := clock.FormatRange(c.Start, c.End, p.clock.Location())
	var title, body string
	switch change.action {
	case persistence.HistoryCreate:
		title = "Course scheduled"
		body = fmt.Sprintf("Course %q was scheduled during your shift, %s.", c.Name, rng)
	case persistence.HistoryUpdate:
		title = "Course updated"
		body = fmt.Sprintf("Course %q (%s) changed: %s.", c.Name, rng, strings.Join(change.fields, ", "))
		if len(change.fields) == 0 {
			body = fmt.Sprintf("Course %q (%s) was saved without changes.", c.Name, rng)
		}
	case persistence.HistoryDelete:
		title = "Course removed"
		body = fmt.Sprintf("Course %q (%s) was removed.", c.Name, rng)
	}
	if _, err := p.emitter.Emit(ctx, Event{
		Kind:       persistence.KindCourseHistory,
		Recipients: []string{change.monitorID},
		Title:      title,
		Body:       body,
		RelatedID:  c.ID,
	}); err != nil {
		logger.WarnContext(ctx, "course history notification failed", "error", err, "error_kind", ErrorKind(err))
	}
}
