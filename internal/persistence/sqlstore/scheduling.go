package sqlstore

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/example/shift-compliance/internal/persistence"
)

func (r *repo) CreateShift(ctx context.Context, s persistence.Shift) error {
	q := r.sb.Insert("shifts").Columns(shiftColumns...).Values(
		s.ID, s.UserID, s.RoomID, formatTime(s.Start), formatTime(s.End), string(s.Status),
		s.Recurring, s.Notes, s.CreatedBy, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	return r.exec(ctx, q, false)
}

func (r *repo) UpdateShift(ctx context.Context, s persistence.Shift) error {
	q := r.sb.Update("shifts").
		Set("user_id", s.UserID).
		Set("room_id", s.RoomID).
		Set("start_time", formatTime(s.Start)).
		Set("end_time", formatTime(s.End)).
		Set("status", string(s.Status)).
		Set("recurring", s.Recurring).
		Set("notes", s.Notes).
		Set("updated_at", formatTime(s.UpdatedAt)).
		Where(sq.Eq{"id": s.ID})
	return r.exec(ctx, q, true)
}

func (r *repo) GetShift(ctx context.Context, id string) (persistence.Shift, error) {
	var row shiftRow
	if err := r.get(ctx, &row, r.sb.Select(shiftColumns...).From("shifts").Where(sq.Eq{"id": id})); err != nil {
		return persistence.Shift{}, err
	}
	return row.model()
}

func (r *repo) ListShifts(ctx context.Context, f persistence.ShiftFilter) ([]persistence.Shift, error) {
	q := r.sb.Select(shiftColumns...).From("shifts").OrderBy("start_time", "id")
	if f.UserID != "" {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.RoomID != "" {
		q = q.Where(sq.Eq{"room_id": f.RoomID})
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
	if !f.StartedBy.IsZero() {
		q = q.Where(sq.LtOrEq{"start_time": formatTime(f.StartedBy)})
	}
	if !f.StartsAfter.IsZero() {
		q = q.Where(sq.Gt{"start_time": formatTime(f.StartsAfter)})
	}
	var rows []shiftRow
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}
	return convertRows(rows, shiftRow.model)
}

// DeleteShift relies on ON DELETE CASCADE for courses.
func (r *repo) DeleteShift(ctx context.Context, id string) error {
	return r.exec(ctx, r.sb.Delete("shifts").Where(sq.Eq{"id": id}), true)
}

func (r *repo) CreateSession(ctx context.Context, s persistence.RoomSession) error {
	q := r.sb.Insert("room_sessions").Columns(sessionColumns...).Values(
		s.ID, s.UserID, s.RoomID, formatTime(s.EntryTime), formatNullTime(s.ExitTime),
		s.Notes, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	return r.exec(ctx, q, false)
}

func (r *repo) UpdateSession(ctx context.Context, s persistence.RoomSession) error {
	q := r.sb.Update("room_sessions").
		Set("exit_time", formatNullTime(s.ExitTime)).
		Set("notes", s.Notes).
		Set("updated_at", formatTime(s.UpdatedAt)).
		Where(sq.Eq{"id": s.ID})
	return r.exec(ctx, q, true)
}

func (r *repo) GetSession(ctx context.Context, id string) (persistence.RoomSession, error) {
	var row sessionRow
	if err := r.get(ctx, &row, r.sb.Select(sessionColumns...).From("room_sessions").Where(sq.Eq{"id": id})); err != nil {
		return persistence.RoomSession{}, err
	}
	return row.model()
}

func (r *repo) ListSessions(ctx context.Context, f persistence.SessionFilter) ([]persistence.RoomSession, error) {
	q := r.sb.Select(sessionColumns...).From("room_sessions").OrderBy("entry_time", "id")
	if f.UserID != "" {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.RoomID != "" {
		q = q.Where(sq.Eq{"room_id": f.RoomID})
	}
	if f.OpenOnly {
		q = q.Where(sq.Eq{"exit_time": nil})
	}
	if !f.From.IsZero() {
		q = q.Where(sq.Or{sq.Eq{"exit_time": nil}, sq.Gt{"exit_time": formatTime(f.From)}})
	}
	if !f.To.IsZero() {
		q = q.Where(sq.Lt{"entry_time": formatTime(f.To)})
	}
	var rows []sessionRow
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}
	return convertRows(rows, sessionRow.model)
}
