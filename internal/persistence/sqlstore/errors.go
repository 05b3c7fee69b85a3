package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/example/shift-compliance/internal/persistence"
)

// mapError translates driver and context failures into persistence sentinels,
// keeping the original error in the message.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(ctx != nil && ctx.Err() != nil) {
		return wrap(persistence.ErrTimeout, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return wrap(persistence.ErrUnavailable, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return wrap(persistence.ErrDuplicate, err)
		case pqErr.Code == "23503", pqErr.Code == "23514", pqErr.Code == "23502":
			return wrap(persistence.ErrConflict, err)
		case pqErr.Code == "57014":
			return wrap(persistence.ErrTimeout, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57",
			pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "53300":
			return wrap(persistence.ErrUnavailable, err)
		}
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return wrap(persistence.ErrDuplicate, err)
	case strings.Contains(msg, "foreign key constraint"),
		strings.Contains(msg, "check constraint"),
		strings.Contains(msg, "not null constraint"):
		return wrap(persistence.ErrConflict, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "unable to open database"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "database is closed"):
		return wrap(persistence.ErrUnavailable, err)
	}
	return err
}

func wrap(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
