package application

import (
	"context"
	"time"

	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/scheduler"
)

// OverlapIndex answers "which active rows collide with this interval". It is
// the only place the overlap predicate is applied to stored rows. Bind it to a
// transaction handle so reads see the locks taken by the caller.
type OverlapIndex struct {
	repo persistence.Repository
}

// NewOverlapIndex binds the index to a repository handle.
func NewOverlapIndex(repo persistence.Repository) OverlapIndex {
	return OverlapIndex{repo: repo}
}

func shiftInterval(s persistence.Shift) scheduler.Interval {
	return scheduler.NewInterval(s.Start, s.End)
}

func courseInterval(c persistence.Course) scheduler.Interval {
	return scheduler.NewInterval(c.Start, c.End)
}

func shiftKey(s persistence.Shift) (string, scheduler.Interval) {
	return s.ID, shiftInterval(s)
}

func courseKey(c persistence.Course) (string, scheduler.Interval) {
	return c.ID, courseInterval(c)
}

func shiftBooking(s persistence.Shift) scheduler.Booking {
	return scheduler.Booking{ID: s.ID, UserID: s.UserID, RoomID: s.RoomID, Interval: shiftInterval(s)}
}

// ShiftsOverlappingRoom returns active shifts in room overlapping [start, end).
func (x OverlapIndex) ShiftsOverlappingRoom(ctx context.Context, roomID string, start, end time.Time, excludeID string) ([]persistence.Shift, error) {
	return x.shifts(ctx, persistence.ShiftFilter{RoomID: roomID}, start, end, excludeID)
}

// ShiftsOverlappingUser returns active shifts of user overlapping [start, end).
func (x OverlapIndex) ShiftsOverlappingUser(ctx context.Context, userID string, start, end time.Time, excludeID string) ([]persistence.Shift, error) {
	return x.shifts(ctx, persistence.ShiftFilter{UserID: userID}, start, end, excludeID)
}

func (x OverlapIndex) shifts(ctx context.Context, filter persistence.ShiftFilter, start, end time.Time, excludeID string) ([]persistence.Shift, error) {
	filter.Statuses = []persistence.ShiftStatus{persistence.ShiftActive}
	filter.From, filter.To = start, end
	rows, err := x.repo.ListShifts(ctx, filter)
	if err != nil {
		return nil, err
	}
	return scheduler.Overlapping(rows, scheduler.NewInterval(start, end), excludeID, shiftKey), nil
}

// ShiftConflicts returns every user and room collision between candidate and
// the active shifts, earliest first. The shift named excludeID is ignored.
func (x OverlapIndex) ShiftConflicts(ctx context.Context, candidate persistence.Shift, excludeID string) ([]scheduler.Conflict, error) {
	byUser, err := x.ShiftsOverlappingUser(ctx, candidate.UserID, candidate.Start, candidate.End, excludeID)
	if err != nil {
		return nil, err
	}
	byRoom, err := x.ShiftsOverlappingRoom(ctx, candidate.RoomID, candidate.Start, candidate.End, excludeID)
	if err != nil {
		return nil, err
	}
	existing := make([]scheduler.Booking, 0, len(byUser)+len(byRoom))
	seen := make(map[string]bool, len(byUser)+len(byRoom))
	for _, rows := range [][]persistence.Shift{byUser, byRoom} {
		for _, s := range rows {
			if !seen[s.ID] {
				seen[s.ID] = true
				existing = append(existing, shiftBooking(s))
			}
		}
	}
	want := shiftBooking(candidate)
	want.ID = excludeID
	return scheduler.DetectConflicts(existing, want), nil
}

// CoursesOverlapping returns scheduled or in-progress courses in room overlapping [start, end).
func (x OverlapIndex) CoursesOverlapping(ctx context.Context, roomID string, start, end time.Time, excludeID string) ([]persistence.Course, error) {
	rows, err := x.repo.ListCourses(ctx, persistence.CourseFilter{
		RoomID:   roomID,
		Statuses: []persistence.CourseStatus{persistence.CourseScheduled, persistence.CourseInProgress},
		From:     start,
		To:       end,
	})
	if err != nil {
		return nil, err
	}
	return scheduler.Overlapping(rows, scheduler.NewInterval(start, end), excludeID, courseKey), nil
}
