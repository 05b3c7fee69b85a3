package sqlstore

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/example/shift-compliance/internal/persistence"
)

func (r *repo) CreateNotification(ctx context.Context, n persistence.Notification) error {
	q := r.sb.Insert("notifications").Columns(notificationColumns...).Values(
		n.ID, n.RecipientID, string(n.Kind), n.Title, n.Body, n.RelatedID, n.Read,
		formatNullTime(n.ReadAt), formatTime(n.CreatedAt),
	)
	return r.exec(ctx, q, false)
}

func (r *repo) UpdateNotification(ctx context.Context, n persistence.Notification) error {
	q := r.sb.Update("notifications").
		Set("is_read", n.Read).
		Set("read_at", formatNullTime(n.ReadAt)).
		Where(sq.Eq{"id": n.ID})
	return r.exec(ctx, q, true)
}

func (r *repo) GetNotification(ctx context.Context, id string) (persistence.Notification, error) {
	var row notificationRow
	if err := r.get(ctx, &row, r.sb.Select(notificationColumns...).From("notifications").Where(sq.Eq{"id": id})); err != nil {
		return persistence.Notification{}, err
	}
	return row.model()
}

func (r *repo) ListNotifications(ctx context.Context, f persistence.NotificationFilter) ([]persistence.Notification, error) {
	q := r.sb.Select(notificationColumns...).From("notifications").OrderBy("created_at DESC", "id")
	if f.RecipientID != "" {
		q = q.Where(sq.Eq{"recipient_id": f.RecipientID})
	}
	if f.UnreadOnly {
		q = q.Where(sq.Eq{"is_read": false})
	}
	if f.RelatedID != "" {
		q = q.Where(sq.Eq{"related_id": f.RelatedID})
	}
	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": string(f.Kind)})
	}
	var rows []notificationRow
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, err
	}
	return convertRows(rows, notificationRow.model)
}

func (r *repo) DeleteNotification(ctx context.Context, id string) error {
	return r.exec(ctx, r.sb.Delete("notifications").Where(sq.Eq{"id": id}), true)
}

func (r *repo) GetDedupMark(ctx context.Context, key string) (persistence.DedupMark, error) {
	var row dedupRow
	if err := r.get(ctx, &row, r.sb.Select(dedupColumns...).From("dedup_marks").Where(sq.Eq{"dedup_key": key})); err != nil {
		return persistence.DedupMark{}, err
	}
	return row.model()
}

// ClaimDedupMark is a single upsert so the primary key arbitrates concurrent
// claims. A loser blocks on the winner's row and then sees it as fresh, which
// leaves zero rows affected.
func (r *repo) ClaimDedupMark(ctx context.Context, m persistence.DedupMark, staleBefore time.Time) error {
	q := r.sb.Insert("dedup_marks").Columns(dedupColumns...).Values(
		m.Key, string(m.Kind), m.RelatedID, formatTime(m.EmittedAt),
	).Suffix(
		"ON CONFLICT (dedup_key) DO UPDATE SET kind = excluded.kind, related_id = excluded.related_id, "+
			"emitted_at = excluded.emitted_at WHERE dedup_marks.emitted_at < ?",
		formatTime(staleBefore),
	)
	err := r.exec(ctx, q, true)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.ErrDuplicate
	}
	return err
}

func (r *repo) DeleteDedupMark(ctx context.Context, key string) error {
	return r.exec(ctx, r.sb.Delete("dedup_marks").Where(sq.Eq{"dedup_key": key}), false)
}
