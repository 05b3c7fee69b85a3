package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/example/shift-compliance/internal/persistence"
)

func (r *repo) CreateCourse(ctx context.Context, c persistence.Course) error {
	q := r.sb.Insert("courses").Columns(courseColumns...).Values(
		c.ID, c.Name, c.Description, c.RoomID, c.ShiftID, formatTime(c.Start), formatTime(c.End),
		string(c.Status), c.CreatedBy, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return r.exec(ctx, q, false)
}

func (r *repo) UpdateCourse(ctx context.Context, c persistence.Course) error {
	q := r.sb.Update("courses").
		Set("name", c.Name).
		Set("description", c.Description).
		Set("room_id", c.RoomID).
		Set("shift_id", c.ShiftID).
		Set("start_time", formatTime(c.Start)).
		Set("end_time", formatTime(c.End)).
		Set("status", string(c.Status)).
		Set("updated_at", formatTime(c.UpdatedAt)).
		Where(sq.Eq{"id": c.ID})
	return r.exec(ctx, q, true)
}

func (r *repo) GetCourse(ctx context.Context, id string) (persistence.Course, error) {
	var row courseRow
	if err := r.get(ctx, &row, r.sb.Select(courseColumns...).From("courses").Where(sq.Eq{"id": id})); err != nil {
		return persistence.Course{}, err
	}
	return row.model()
}

func (r *repo) ListCourses(ctx context.Context, f persistence.CourseFilter) ([]persistence.Course, error) {
	q := r.sb.Select(courseColumns...).From("courses").OrderBy("start_time", "id")
	if f.RoomID != "" {
		q = q.Where(sq.Eq{"room_id": f.RoomID})
	}
	if f.ShiftID != "" {
		q = q.Where(sq.Eq{"shift_id": f.ShiftID})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if !f.From.IsZero() {
		q = q.Where(sq.Gt{"end_time": formatTime(f.From)})
	}
	if !f.To.IsZero() {
		q = q.Where(sq.Lt{"start_time": formatTime(f.To)})
	}
	var rows []courseRow
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}
	return convertRows(rows, courseRow.model)
}

func (r *repo) DeleteCourse(ctx context.Context, id string) error {
	return r.exec(ctx, r.sb.Delete("courses").Where(sq.Eq{"id": id}), true)
}

// AppendCourseHistory assigns the next sequence number for the course. The
// UNIQUE (course_id, seq) constraint rejects a racing append.
func (r *repo) AppendCourseHistory(ctx context.Context, e persistence.CourseHistoryEntry) error {
	var last int
	if err := r.get(ctx, &last, r.sb.Select("COALESCE(MAX(seq), 0)").From("course_history").Where(sq.Eq{"course_id": e.CourseID})); err != nil {
		return err
	}
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("sqlstore: encode history changes: %w", err)
	}
	q := r.sb.Insert("course_history").Columns(historyColumns...).Values(
		e.ID, e.CourseID, last+1, string(e.Action), string(changes), e.ActorID, formatTime(e.CreatedAt),
	)
	return r.exec(ctx, q, false)
}

func (r *repo) ListCourseHistory(ctx context.Context, courseID string) ([]persistence.CourseHistoryEntry, error) {
	q := r.sb.Select(historyColumns...).From("course_history").Where(sq.Eq{"course_id": courseID}).OrderBy("seq")
	var rows []historyRow
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}
	return convertRows(rows, historyRow.model)
}
