package persistence

import (
	"context"
	"time"
)

// UserFilter narrows user queries.
type UserFilter struct {
	Role         Role
	VerifiedOnly bool
	ActiveOnly   bool
}

// ShiftFilter narrows shift queries. Zero values are unbounded.
type ShiftFilter struct {
	UserID   string
	RoomID   string
	Statuses []ShiftStatus
	// From and To keep shifts overlapping [From, To).
	From time.Time
	To   time.Time
	// StartedBy keeps shifts with Start <= StartedBy.
	StartedBy time.Time
	// StartsAfter keeps shifts with Start > StartsAfter.
	StartsAfter time.Time
}

// ActiveShiftsAt selects active shifts with Start <= t < End.
func ActiveShiftsAt(t time.Time, userID, roomID string) ShiftFilter {
	return ShiftFilter{
		UserID:    userID,
		RoomID:    roomID,
		Statuses:  []ShiftStatus{ShiftActive},
		From:      t,
		StartedBy: t,
	}
}

// SessionFilter narrows room session queries. An open session extends to infinity.
type SessionFilter struct {
	UserID   string
	RoomID   string
	OpenOnly bool
	From     time.Time
	To       time.Time
}

// CourseFilter narrows course queries.
type CourseFilter struct {
	RoomID   string
	ShiftID  string
	Statuses []CourseStatus
	From     time.Time
	To       time.Time
}

// NotificationFilter narrows notification queries.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	RelatedID   string
	Kind        NotificationKind
}

// UserRepository reads the user directory and accepts directory syncs.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
	UpsertUser(ctx context.Context, user User) error
}

// RoomRepository exposes CRUD operations for rooms.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	UpdateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error
}

// ShiftRepository stores shifts. Listing is ordered by start then id.
type ShiftRepository interface {
	CreateShift(ctx context.Context, shift Shift) error
	UpdateShift(ctx context.Context, shift Shift) error
	GetShift(ctx context.Context, id string) (Shift, error)
	ListShifts(ctx context.Context, filter ShiftFilter) ([]Shift, error)
	DeleteShift(ctx context.Context, id string) error
}

// SessionRepository stores room sessions. Sessions are never deleted.
type SessionRepository interface {
	CreateSession(ctx context.Context, session RoomSession) error
	UpdateSession(ctx context.Context, session RoomSession) error
	GetSession(ctx context.Context, id string) (RoomSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]RoomSession, error)
}

// CourseRepository stores courses and their append-only history.
type CourseRepository interface {
	CreateCourse(ctx context.Context, course Course) error
	UpdateCourse(ctx context.Context, course Course) error
	GetCourse(ctx context.Context, id string) (Course, error)
	ListCourses(ctx context.Context, filter CourseFilter) ([]Course, error)
	DeleteCourse(ctx context.Context, id string) error
	AppendCourseHistory(ctx context.Context, entry CourseHistoryEntry) error
	ListCourseHistory(ctx context.Context, courseID string) ([]CourseHistoryEntry, error)
}

// NotificationRepository stores notifications and dedup marks.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n Notification) error
	UpdateNotification(ctx context.Context, n Notification) error
	GetNotification(ctx context.Context, id string) (Notification, error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	GetDedupMark(ctx context.Context, key string) (DedupMark, error)
	// ClaimDedupMark stores mark unless a mark for the same key was emitted at
	// or after staleBefore, in which case it returns ErrDuplicate. Concurrent
	// claims for one key admit exactly one winner.
	ClaimDedupMark(ctx context.Context, mark DedupMark, staleBefore time.Time) error
	DeleteDedupMark(ctx context.Context, key string) error
}

// Locker takes row locks held until the surrounding transaction ends. Outside
// a transaction the calls are no-ops.
type Locker interface {
	LockUser(ctx context.Context, id string) error
	LockRoom(ctx context.Context, id string) error
	LockShift(ctx context.Context, id string) error
	LockSession(ctx context.Context, id string) error
}

// Repository is the full row-level API.
type Repository interface {
	UserRepository
	RoomRepository
	ShiftRepository
	SessionRepository
	CourseRepository
	NotificationRepository
	Locker
}

// TxFunc runs inside one transaction.
type TxFunc func(ctx context.Context, tx Repository) error

// Store is the transactional entity store. Reader returns a lock-free read
// handle whose writes fail with ErrReadOnly or run outside any transaction,
// depending on the engine; callers write only through WithinTx.
type Store interface {
	Reader() Repository
	WithinTx(ctx context.Context, fn TxFunc) error
	Close() error
}
