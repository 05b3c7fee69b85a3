package persistence

import "time"

// Role distinguishes schedulers from staff.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleMonitor Role = "monitor"
)

// User is a principal synchronised from the external registration workflow.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        Role
	Verified    bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsVerifiedMonitor reports whether the user may be assigned shifts.
func (u User) IsVerifiedMonitor() bool {
	return u.Role == RoleMonitor && u.Verified
}

// IsVerifiedAdmin reports whether the user receives administrative notifications.
func (u User) IsVerifiedAdmin() bool {
	return u.Role == RoleAdmin && u.Verified && u.Active
}

// Room is a physical space that monitors staff.
type Room struct {
	ID        string
	Code      string
	Name      string
	Capacity  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShiftStatus is the stored lifecycle state of a shift.
type ShiftStatus string

const (
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
	ShiftCancelled ShiftStatus = "cancelled"
)

// Shift assigns one monitor to one room for [Start, End).
type Shift struct {
	ID        string
	UserID    string
	RoomID    string
	Start     time.Time
	End       time.Time
	Status    ShiftStatus
	Recurring bool
	Notes     string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveStatus derives completed for active shifts whose end has passed.
func (s Shift) EffectiveStatus(now time.Time) ShiftStatus {
	if s.Status == ShiftActive && !now.Before(s.End) {
		return ShiftCompleted
	}
	return s.Status
}

// RoomSession is one physical presence record. ExitTime nil means open.
type RoomSession struct {
	ID        string
	UserID    string
	RoomID    string
	EntryTime time.Time
	ExitTime  *time.Time
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open reports whether the session has no exit yet.
func (s RoomSession) Open() bool { return s.ExitTime == nil }

// CourseStatus is the lifecycle state of a course.
type CourseStatus string

const (
	CourseScheduled  CourseStatus = "scheduled"
	CourseInProgress CourseStatus = "in_progress"
	CourseCompleted  CourseStatus = "completed"
	CourseCancelled  CourseStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s CourseStatus) Terminal() bool {
	return s == CourseCompleted || s == CourseCancelled
}

// Blocking reports whether a course in this status claims its room.
func (s CourseStatus) Blocking() bool {
	return s == CourseScheduled || s == CourseInProgress
}

// Course is a teaching block placed inside a shift.
type Course struct {
	ID          string
	Name        string
	Description string
	RoomID      string
	ShiftID     string
	Start       time.Time
	End         time.Time
	Status      CourseStatus
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EffectiveStatus refreshes a non-terminal status from now.
func (c Course) EffectiveStatus(now time.Time) CourseStatus {
	if c.Status.Terminal() {
		return c.Status
	}
	switch {
	case now.Before(c.Start):
		return CourseScheduled
	case now.Before(c.End):
		return CourseInProgress
	default:
		return CourseCompleted
	}
}

// HistoryAction names a course mutation.
type HistoryAction string

const (
	HistoryCreate HistoryAction = "create"
	HistoryUpdate HistoryAction = "update"
	HistoryDelete HistoryAction = "delete"
)

// FieldChange is one attribute transition. Nil means absent.
type FieldChange struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// CourseHistoryEntry is an append-only audit record.
type CourseHistoryEntry struct {
	ID       string
	CourseID string
	// Seq orders entries of one course; the store assigns it on append.
	Seq       int
	Action    HistoryAction
	Changes   map[string]FieldChange
	ActorID   string
	CreatedAt time.Time
}

// NotificationKind classifies notifications.
type NotificationKind string

const (
	KindShiftNonCompliance NotificationKind = "shift-non-compliance"
	KindExcessiveHours     NotificationKind = "excessive-hours"
	KindExcessiveHoursWarn NotificationKind = "excessive-hours-warning"
	KindCourseHistory      NotificationKind = "course-history"
	KindDailySummary       NotificationKind = "daily-compliance-summary"
)

// Notification is one persisted message for one recipient.
type Notification struct {
	ID          string
	RecipientID string
	Kind        NotificationKind
	Title       string
	Body        string
	RelatedID   string
	Read        bool
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// DedupMark records when a dedup key last produced notifications.
type DedupMark struct {
	Key       string
	Kind      NotificationKind
	RelatedID string
	EmittedAt time.Time
}
