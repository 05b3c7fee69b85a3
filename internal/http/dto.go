package http

import (
	"github.com/shopspring/decimal"

	"github.com/example/shift-compliance/internal/application"
	"github.com/example/shift-compliance/internal/compliance"
	"github.com/example/shift-compliance/internal/persistence"
)

type shiftDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Status    string `json:"status"`
	Recurring bool   `json:"recurring"`
	Notes     string `json:"notes,omitempty"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (r responder) shift(s persistence.Shift) shiftDTO {
	return shiftDTO{
		ID:        s.ID,
		UserID:    s.UserID,
		RoomID:    s.RoomID,
		Start:     r.timestamp(s.Start),
		End:       r.timestamp(s.End),
		Status:    string(s.Status),
		Recurring: s.Recurring,
		Notes:     s.Notes,
		CreatedBy: s.CreatedBy,
		CreatedAt: r.timestamp(s.CreatedAt),
		UpdatedAt: r.timestamp(s.UpdatedAt),
	}
}

type sessionDTO struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	RoomID        string          `json:"room_id"`
	EntryTime     string          `json:"entry_time"`
	ExitTime      *string         `json:"exit_time"`
	Open          bool            `json:"open"`
	DurationHours decimal.Decimal `json:"duration_hours"`
	Notes         string          `json:"notes,omitempty"`
}

func (r responder) session(v application.SessionView) sessionDTO {
	return sessionDTO{
		ID:            v.ID,
		UserID:        v.UserID,
		RoomID:        v.RoomID,
		EntryTime:     r.timestamp(v.EntryTime),
		ExitTime:      r.timestampPtr(v.ExitTime),
		Open:          v.Open(),
		DurationHours: v.DurationHours,
		Notes:         v.Notes,
	}
}

type accessDTO struct {
	Allowed bool      `json:"allowed"`
	Grace   bool      `json:"grace"`
	ShiftID string    `json:"shift_id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message,omitempty"`
	Hints   *hintsDTO `json:"hints,omitempty"`
}

type hintsDTO struct {
	UpcomingShiftID   string `json:"upcoming_shift_id,omitempty"`
	MinutesUntilShift int    `json:"minutes_until_shift,omitempty"`
	OtherRoomShiftID  string `json:"other_room_shift_id,omitempty"`
	OtherRoomID       string `json:"other_room_id,omitempty"`
	OpenSessionID     string `json:"open_session_id,omitempty"`
	OpenSessionRoomID string `json:"open_session_room_id,omitempty"`
}

func toAccessDTO(d application.AccessDecision) accessDTO {
	out := accessDTO{
		Allowed: d.Allowed,
		Grace:   d.Grace,
		ShiftID: d.ShiftID,
		Reason:  string(d.Reason),
		Message: d.Message,
	}
	if d.Hints != (application.AccessHints{}) {
		out.Hints = &hintsDTO{
			UpcomingShiftID:   d.Hints.UpcomingShiftID,
			MinutesUntilShift: d.Hints.MinutesUntilShift,
			OtherRoomShiftID:  d.Hints.OtherRoomShiftID,
			OtherRoomID:       d.Hints.OtherRoomID,
			OpenSessionID:     d.Hints.OpenSessionID,
			OpenSessionRoomID: d.Hints.OpenSessionRoomID,
		}
	}
	return out
}

type courseDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RoomID      string `json:"room_id"`
	ShiftID     string `json:"shift_id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Status      string `json:"status"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (r responder) course(c persistence.Course) courseDTO {
	return courseDTO{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		RoomID:      c.RoomID,
		ShiftID:     c.ShiftID,
		Start:       r.timestamp(c.Start),
		End:         r.timestamp(c.End),
		Status:      string(c.Status),
		CreatedBy:   c.CreatedBy,
		CreatedAt:   r.timestamp(c.CreatedAt),
		UpdatedAt:   r.timestamp(c.UpdatedAt),
	}
}

type historyDTO struct {
	ID        string                             `json:"id"`
	Seq       int                                `json:"seq"`
	Action    string                             `json:"action"`
	Changes   map[string]persistence.FieldChange `json:"changes"`
	ActorID   string                             `json:"actor_id"`
	CreatedAt string                             `json:"created_at"`
}

func (r responder) history(e persistence.CourseHistoryEntry) historyDTO {
	return historyDTO{
		ID:        e.ID,
		Seq:       e.Seq,
		Action:    string(e.Action),
		Changes:   e.Changes,
		ActorID:   e.ActorID,
		CreatedAt: r.timestamp(e.CreatedAt),
	}
}

type roomDTO struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (r responder) room(room persistence.Room) roomDTO {
	return roomDTO{
		ID:        room.ID,
		Code:      room.Code,
		Name:      room.Name,
		Capacity:  room.Capacity,
		Active:    room.Active,
		CreatedAt: r.timestamp(room.CreatedAt),
		UpdatedAt: r.timestamp(room.UpdatedAt),
	}
}

type userDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Verified    bool   `json:"verified"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (r responder) user(u persistence.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Verified:    u.Verified,
		Active:      u.Active,
		CreatedAt:   r.timestamp(u.CreatedAt),
		UpdatedAt:   r.timestamp(u.UpdatedAt),
	}
}

type notificationDTO struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	RelatedID string  `json:"related_id,omitempty"`
	Read      bool    `json:"read"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

func (r responder) notification(n persistence.Notification) notificationDTO {
	return notificationDTO{
		ID:        n.ID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Body:      n.Body,
		RelatedID: n.RelatedID,
		Read:      n.Read,
		ReadAt:    r.timestampPtr(n.ReadAt),
		CreatedAt: r.timestamp(n.CreatedAt),
	}
}

type complianceDTO struct {
	ShiftID     string `json:"shift_id"`
	Verdict     string `json:"verdict"`
	SessionID   string `json:"session_id,omitempty"`
	LatenessMin int    `json:"lateness_min,omitempty"`
	EvaluatedAt string `json:"evaluated_at"`
	Notified    int    `json:"notified"`
}

func (r responder) verdict(c application.ComplianceResult) complianceDTO {
	return complianceDTO{
		ShiftID:     c.ShiftID,
		Verdict:     string(c.Verdict),
		SessionID:   c.SessionID,
		LatenessMin: c.LatenessMin,
		EvaluatedAt: r.timestamp(c.EvaluatedAt),
		Notified:    c.Notified,
	}
}

type sweepDTO struct {
	StartedAt    string           `json:"started_at"`
	FinishedAt   string           `json:"finished_at"`
	Evaluated    int              `json:"evaluated"`
	Verdicts     compliance.Tally `json:"verdicts"`
	Notified     int              `json:"notified"`
	AutoClosed   int              `json:"auto_closed"`
	ExcessAlerts int              `json:"excess_alerts"`
	Failures     int              `json:"failures"`
	SummaryDate  string           `json:"summary_date,omitempty"`
}

func (r responder) sweep(s application.SweepReport) sweepDTO {
	return sweepDTO{
		StartedAt:    r.timestamp(s.StartedAt),
		FinishedAt:   r.timestamp(s.FinishedAt),
		Evaluated:    s.Evaluated,
		Verdicts:     s.Verdicts,
		Notified:     s.Notified,
		AutoClosed:   s.AutoClosed,
		ExcessAlerts: s.ExcessAlerts,
		Failures:     s.Failures,
		SummaryDate:  s.SummaryDate,
	}
}

type summaryDTO struct {
	Date         string           `json:"date"`
	Verdicts     compliance.Tally `json:"verdicts"`
	NonCompliant []string         `json:"non_compliant"`
	Notified     int              `json:"notified"`
}

func toSummaryDTO(s application.DailySummary) summaryDTO {
	nc := s.NonCompliant
	if nc == nil {
		nc = []string{}
	}
	return summaryDTO{Date: s.Date, Verdicts: s.Verdicts, NonCompliant: nc, Notified: s.Notified}
}
