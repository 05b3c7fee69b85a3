package sqlstore

import (
	"context"

	sq "github.com/Masterminds/squirrel"
)

func (r *repo) LockUser(ctx context.Context, id string) error {
	return r.lock(ctx, "users", id)
}

func (r *repo) LockRoom(ctx context.Context, id string) error {
	return r.lock(ctx, "rooms", id)
}

func (r *repo) LockShift(ctx context.Context, id string) error {
	return r.lock(ctx, "shifts", id)
}

func (r *repo) LockSession(ctx context.Context, id string) error {
	return r.lock(ctx, "room_sessions", id)
}

// lock selects the row, adding FOR UPDATE inside a transaction where the
// dialect supports it. SQLite transactions already serialize on the single
// connection.
func (r *repo) lock(ctx context.Context, table, id string) error {
	q := r.sb.Select("id").From(table).Where(sq.Eq{"id": id})
	if r.inTx && r.dialect.LockSuffix != "" {
		q = q.Suffix(r.dialect.LockSuffix)
	}
	var got string
	return r.get(ctx, &got, q)
}
