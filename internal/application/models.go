package application

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/shift-compliance/internal/compliance"
	"github.com/example/shift-compliance/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Policy holds the tunable rules the services enforce. It is built once from
// configuration and never mutated.
type Policy struct {
	MaxShiftDuration  time.Duration
	MaxCourseDuration time.Duration
	// EntryGrace is how early a monitor may enter before a shift starts.
	EntryGrace time.Duration
	// ComplianceGrace is how late a monitor may arrive and still comply.
	ComplianceGrace time.Duration
	// UpcomingHint bounds the upcoming-shift hint attached to no-shift errors.
	UpcomingHint time.Duration
	// ExcessDedupWindow suppresses repeated excess-hours alerts for one session.
	ExcessDedupWindow time.Duration
	Thresholds        compliance.Thresholds
	// SweepLookback bounds how far back a sweep looks for shifts to classify.
	SweepLookback time.Duration
	// DailySummaryHour is the local hour from which a sweep emits the daily
	// summary. A negative hour disables the summary.
	DailySummaryHour int
	// AllowCrossAdminEdits lets any admin edit shifts and courses created by another admin.
	AllowCrossAdminEdits bool
}

// DefaultPolicy returns the stock rules.
func DefaultPolicy() Policy {
	return Policy{
		MaxShiftDuration:     12 * time.Hour,
		MaxCourseDuration:    8 * time.Hour,
		EntryGrace:           10 * time.Minute,
		ComplianceGrace:      20 * time.Minute,
		UpcomingHint:         20 * time.Minute,
		ExcessDedupWindow:    time.Hour,
		Thresholds:           compliance.DefaultThresholds(),
		SweepLookback:        24 * time.Hour,
		DailySummaryHour:     22,
		AllowCrossAdminEdits: true,
	}
}

// ShiftInput captures caller provided shift fields.
type ShiftInput struct {
	UserID    string
	RoomID    string
	Start     time.Time
	End       time.Time
	Recurring bool
	Notes     string
}

// ShiftPatch lists the shift fields an update may change. Nil leaves a field untouched.
type ShiftPatch struct {
	UserID    *string
	RoomID    *string
	Start     *time.Time
	End       *time.Time
	Status    *persistence.ShiftStatus
	Recurring *bool
	Notes     *string
}

// ShiftQuery filters shift listings. Dates are inclusive YYYY-MM-DD values in
// the local zone.
type ShiftQuery struct {
	UserID   string
	RoomID   string
	Status   persistence.ShiftStatus
	DateFrom string
	DateTo   string
	Page     PageRequest
}

// SessionView is a room session with its derived duration.
type SessionView struct {
	persistence.RoomSession
	Duration      time.Duration
	DurationHours decimal.Decimal
}

// AccessHints are the diagnostics attached to a refused or graced entry.
type AccessHints struct {
	UpcomingShiftID   string
	MinutesUntilShift int
	OtherRoomShiftID  string
	OtherRoomID       string
	OpenSessionID     string
	OpenSessionRoomID string
}

// AccessDecision is the outcome of the entry rules for (user, room, at).
type AccessDecision struct {
	Allowed bool
	// Grace is set when entry is allowed ahead of the shift start.
	Grace   bool
	ShiftID string
	Reason  Kind
	Message string
	Hints   AccessHints
}

// CourseInput captures caller provided course fields.
type CourseInput struct {
	Name        string
	Description string
	RoomID      string
	ShiftID     string
	Start       time.Time
	End         time.Time
}

// CoursePatch lists the course fields an update may change.
type CoursePatch struct {
	Name        *string
	Description *string
	RoomID      *string
	ShiftID     *string
	Start       *time.Time
	End         *time.Time
	Status      *persistence.CourseStatus
}

// CourseQuery filters course listings.
type CourseQuery struct {
	RoomID   string
	ShiftID  string
	Status   persistence.CourseStatus
	DateFrom string
	DateTo   string
	Page     PageRequest
}

// RoomInput captures caller provided room fields.
type RoomInput struct {
	Code     string
	Name     string
	Capacity int
}

// RoomPatch lists the room fields an update may change.
type RoomPatch struct {
	Code     *string
	Name     *string
	Capacity *int
	Active   *bool
}

// UserInput is a directory record pushed by the registration workflow.
type UserInput struct {
	ID          string
	Email       string
	DisplayName string
	Role        persistence.Role
	Verified    bool
	Active      bool
}

// ComplianceResult is the verdict for one shift at one instant.
type ComplianceResult struct {
	ShiftID     string
	Verdict     compliance.Verdict
	SessionID   string
	LatenessMin int
	EvaluatedAt time.Time
	Notified    int
}

// SweepReport summarises one compliance sweep.
type SweepReport struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Evaluated    int
	Verdicts     compliance.Tally
	Notified     int
	AutoClosed   int
	ExcessAlerts int
	Failures     int
	// SummaryDate is set when the sweep emitted the daily summary.
	SummaryDate string
}

// DailySummary aggregates one local day of verdicts.
type DailySummary struct {
	Date         string
	Verdicts     compliance.Tally
	NonCompliant []string
	Notified     int
}
