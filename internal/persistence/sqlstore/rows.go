package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/example/shift-compliance/internal/persistence"
)

// timeLayout is fixed width in UTC, so text order is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlstore: parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func formatNullTime(t *time.Time) null.String {
	if t == nil {
		return null.String{}
	}
	return null.StringFrom(formatTime(*t))
}

func parseNullTime(value null.String) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var userColumns = []string{"id", "email", "display_name", "role", "verified", "active", "created_at", "updated_at"}

type userRow struct {
	ID          string `db:"id"`
	Email       string `db:"email"`
	DisplayName string `db:"display_name"`
	Role        string `db:"role"`
	Verified    bool   `db:"verified"`
	Active      bool   `db:"active"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (r userRow) model() (persistence.User, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.User{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.User{}, err
	}
	return persistence.User{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Role:        persistence.Role(r.Role),
		Verified:    r.Verified,
		Active:      r.Active,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

var roomColumns = []string{"id", "code", "name", "capacity", "active", "created_at", "updated_at"}

type roomRow struct {
	ID        string `db:"id"`
	Code      string `db:"code"`
	Name      string `db:"name"`
	Capacity  int    `db:"capacity"`
	Active    bool   `db:"active"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r roomRow) model() (persistence.Room, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.Room{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return persistence.Room{}, err
	}
	return persistence.Room{
		ID:        r.ID,
		Code:      r.Code,
		Name:      r.Name,
		Capacity:  r.Capacity,
		Active:    r.Active,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

var shiftColumns = []string{"id", "user_id", "room_id", "start_time", "end_time", "status", "recurring", "notes", "created_by", "created_at", "updated_at"}

type shiftRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	RoomID    string `db:"room_id"`
	Start     string `db:"start_time"`
	End       string `db:"end_time"`
	Status    string `db:"status"`
	Recurring bool   `db:"recurring"`
	Notes     string `db:"notes"`
	CreatedBy string `db:"created_by"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r shiftRow) model() (persistence.Shift, error) {
	var (
		s   persistence.Shift
		err error
	)
	if s.Start, err = parseTime(r.Start); err != nil {
		return s, err
	}
	if s.End, err = parseTime(r.End); err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return s, err
	}
	s.ID = r.ID
	s.UserID = r.UserID
	s.RoomID = r.RoomID
	s.Status = persistence.ShiftStatus(r.Status)
	s.Recurring = r.Recurring
	s.Notes = r.Notes
	s.CreatedBy = r.CreatedBy
	return s, nil
}

var sessionColumns = []string{"id", "user_id", "room_id", "entry_time", "exit_time", "notes", "created_at", "updated_at"}

type sessionRow struct {
	ID        string      `db:"id"`
	UserID    string      `db:"user_id"`
	RoomID    string      `db:"room_id"`
	EntryTime string      `db:"entry_time"`
	ExitTime  null.String `db:"exit_time"`
	Notes     string      `db:"notes"`
	CreatedAt string      `db:"created_at"`
	UpdatedAt string      `db:"updated_at"`
}

func (r sessionRow) model() (persistence.RoomSession, error) {
	var (
		s   persistence.RoomSession
		err error
	)
	if s.EntryTime, err = parseTime(r.EntryTime); err != nil {
		return s, err
	}
	if s.ExitTime, err = parseNullTime(r.ExitTime); err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return s, err
	}
	s.ID = r.ID
	s.UserID = r.UserID
	s.RoomID = r.RoomID
	s.Notes = r.Notes
	return s, nil
}

var courseColumns = []string{"id", "name", "description", "room_id", "shift_id", "start_time", "end_time", "status", "created_by", "created_at", "updated_at"}

type courseRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	RoomID      string `db:"room_id"`
	ShiftID     string `db:"shift_id"`
	Start       string `db:"start_time"`
	End         string `db:"end_time"`
	Status      string `db:"status"`
	CreatedBy   string `db:"created_by"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (r courseRow) model() (persistence.Course, error) {
	var (
		c   persistence.Course
		err error
	)
	if c.Start, err = parseTime(r.Start); err != nil {
		return c, err
	}
	if c.End, err = parseTime(r.End); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return c, err
	}
	c.ID = r.ID
	c.Name = r.Name
	c.Description = r.Description
	c.RoomID = r.RoomID
	c.ShiftID = r.ShiftID
	c.Status = persistence.CourseStatus(r.Status)
	c.CreatedBy = r.CreatedBy
	return c, nil
}

var historyColumns = []string{"id", "course_id", "seq", "action", "changes", "actor_id", "created_at"}

type historyRow struct {
	ID        string `db:"id"`
	CourseID  string `db:"course_id"`
	Seq       int    `db:"seq"`
	Action    string `db:"action"`
	Changes   string `db:"changes"`
	ActorID   string `db:"actor_id"`
	CreatedAt string `db:"created_at"`
}

func (r historyRow) model() (persistence.CourseHistoryEntry, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.CourseHistoryEntry{}, err
	}
	changes := map[string]persistence.FieldChange{}
	if err := json.Unmarshal([]byte(r.Changes), &changes); err != nil {
		return persistence.CourseHistoryEntry{}, fmt.Errorf("sqlstore: decode history %s: %w", r.ID, err)
	}
	return persistence.CourseHistoryEntry{
		ID:        r.ID,
		CourseID:  r.CourseID,
		Seq:       r.Seq,
		Action:    persistence.HistoryAction(r.Action),
		Changes:   changes,
		ActorID:   r.ActorID,
		CreatedAt: created,
	}, nil
}

var notificationColumns = []string{"id", "recipient_id", "kind", "title", "body", "related_id", "is_read", "read_at", "created_at"}

type notificationRow struct {
	ID          string      `db:"id"`
	RecipientID string      `db:"recipient_id"`
	Kind        string      `db:"kind"`
	Title       string      `db:"title"`
	Body        string      `db:"body"`
	RelatedID   string      `db:"related_id"`
	Read        bool        `db:"is_read"`
	ReadAt      null.String `db:"read_at"`
	CreatedAt   string      `db:"created_at"`
}

func (r notificationRow) model() (persistence.Notification, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return persistence.Notification{}, err
	}
	readAt, err := parseNullTime(r.ReadAt)
	if err != nil {
		return persistence.Notification{}, err
	}
	return persistence.Notification{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		Kind:        persistence.NotificationKind(r.Kind),
		Title:       r.Title,
		Body:        r.Body,
		RelatedID:   r.RelatedID,
		Read:        r.Read,
		ReadAt:      readAt,
		CreatedAt:   created,
	}, nil
}

var dedupColumns = []string{"dedup_key", "kind", "related_id", "emitted_at"}

type dedupRow struct {
	Key       string `db:"dedup_key"`
	Kind      string `db:"kind"`
	RelatedID string `db:"related_id"`
	EmittedAt string `db:"emitted_at"`
}

func (r dedupRow) model() (persistence.DedupMark, error) {
	emitted, err := parseTime(r.EmittedAt)
	if err != nil {
		return persistence.DedupMark{}, err
	}
	return persistence.DedupMark{
		Key:       r.Key,
		Kind:      persistence.NotificationKind(r.Kind),
		RelatedID: r.RelatedID,
		EmittedAt: emitted,
	}, nil
}

// convertRows maps scanned rows to models, stopping at the first bad row.
func convertRows[R any, M any](rows []R, conv func(R) (M, error)) ([]M, error) {
	out := make([]M, 0, len(rows))
	for _, row := range rows {
		m, err := conv(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
