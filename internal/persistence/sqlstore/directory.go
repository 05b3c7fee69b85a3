package sqlstore

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/example/shift-compliance/internal/persistence"
)

func (r *repo) GetUser(ctx context.Context, id string) (persistence.User, error) {
	var row userRow
	if err := r.get(ctx, &row, r.sb.Select(userColumns...).From("users").Where(sq.Eq{"id": id})); err != nil {
		return persistence.User{}, err
	}
	return row.model()
}

func (r *repo) ListUsers(ctx context.Context, filter persistence.UserFilter) ([]persistence.User, error) {
	q := r.sb.Select(userColumns...).From("users").OrderBy("id")
	if filter.Role != "" {
		q = q.Where(sq.Eq{"role": string(filter.Role)})
	}
	if filter.VerifiedOnly {
		q = q.Where(sq.Eq{"verified": true})
	}
	if filter.ActiveOnly {
		q = q.Where(sq.Eq{"active": true})
	}
	var rows []userRow
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}
	return convertRows(rows, userRow.model)
}

func (r *repo) UpsertUser(ctx context.Context, user persistence.User) error {
	q := r.sb.Insert("users").Columns(userColumns...).Values(
		user.ID, user.Email, user.DisplayName, string(user.Role), user.Verified, user.Active,
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	).Suffix("ON CONFLICT (id) DO UPDATE SET email = excluded.email, display_name = excluded.display_name, " +
		"role = excluded.role, verified = excluded.verified, active = excluded.active, updated_at = excluded.updated_at")
	return r.exec(ctx, q, false)
}

func (r *repo) CreateRoom(ctx context.Context, room persistence.Room) error {
	q := r.sb.Insert("rooms").Columns(roomColumns...).Values(
		room.ID, room.Code, room.Name, room.Capacity, room.Active,
		formatTime(room.CreatedAt), formatTime(room.UpdatedAt),
	)
	return r.exec(ctx, q, false)
}

func (r *repo) UpdateRoom(ctx context.Context, room persistence.Room) error {
	q := r.sb.Update("rooms").
		Set("code", room.Code).
		Set("name", room.Name).
		Set("capacity", room.Capacity).
		Set("active", room.Active).
		Set("updated_at", formatTime(room.UpdatedAt)).
		Where(sq.Eq{"id": room.ID})
	return r.exec(ctx, q, true)
}

func (r *repo) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	var row roomRow
	if err := r.get(ctx, &row, r.sb.Select(roomColumns...).From("rooms").Where(sq.Eq{"id": id})); err != nil {
		return persistence.Room{}, err
	}
	return row.model()
}

func (r *repo) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	var rows []roomRow
	if err := r.selectAll(ctx, &rows, r.sb.Select(roomColumns...).From("rooms").OrderBy("code")); err != nil {
		return nil, err
	}
	return convertRows(rows, roomRow.model)
}

// DeleteRoom relies on ON DELETE CASCADE for shifts and courses; the sessions
// foreign key refuses the delete when history exists.
func (r *repo) DeleteRoom(ctx context.Context, id string) error {
	return r.exec(ctx, r.sb.Delete("rooms").Where(sq.Eq{"id": id}), true)
}
