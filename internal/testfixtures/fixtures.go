package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/persistence"
)

var (
	userCounter  uint64
	roomCounter  uint64
	shiftCounter uint64
)

var bogota = mustZone(clock.DefaultZone)

func mustZone(name string) *time.Location {
	loc, err := clock.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Zone returns America/Bogota, the zone every fixture time is expressed in.
func Zone() *time.Location { return bogota }

// Local parses a "2006-01-02 15:04" value in the Bogota zone. It panics on
// malformed input since fixtures are literals.
func Local(value string) time.Time {
	t, err := time.ParseInLocation(clock.DisplayLayout, value, bogota)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: bad local time %q: %v", value, err))
	}
	return t
}

var referenceTime = Local("2025-09-01 07:00")

// ReferenceTime returns the canonical baseline instant used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserOption configures a generated user.
type UserOption func(*persistence.User)

// NewUser returns a verified, active monitor with a deterministic id.
func NewUser(opts ...UserOption) persistence.User {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	u := persistence.User{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: fmt.Sprintf("User %03d", idx),
		Role:        persistence.RoleMonitor,
		Verified:    true,
		Active:      true,
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// NewMonitor is NewUser with an explicit id and display name.
func NewMonitor(id, name string, opts ...UserOption) persistence.User {
	return NewUser(append([]UserOption{WithUserID(id), WithDisplayName(name)}, opts...)...)
}

// NewAdmin returns a verified, active administrator.
func NewAdmin(id string, opts ...UserOption) persistence.User {
	return NewUser(append([]UserOption{WithUserID(id), WithDisplayName("Admin " + id), WithRole(persistence.RoleAdmin)}, opts...)...)
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(u *persistence.User) { u.ID = id }
}

// WithDisplayName overrides the display name.
func WithDisplayName(name string) UserOption {
	return func(u *persistence.User) { u.DisplayName = name }
}

// WithRole overrides the role.
func WithRole(role persistence.Role) UserOption {
	return func(u *persistence.User) { u.Role = role }
}

// Unverified clears the verified flag.
func Unverified() UserOption {
	return func(u *persistence.User) { u.Verified = false }
}

// Inactive clears the active flag.
func Inactive() UserOption {
	return func(u *persistence.User) { u.Active = false }
}

// ----------------------------- Room fixtures -----------------------------

// RoomOption configures a generated room.
type RoomOption func(*persistence.Room)

// NewRoom returns an active room whose code equals its id unless overridden.
func NewRoom(id string, opts ...RoomOption) persistence.Room {
	idx := atomic.AddUint64(&roomCounter, 1)
	if id == "" {
		id = fmt.Sprintf("room-%03d", idx)
	}
	r := persistence.Room{
		ID:        id,
		Code:      id,
		Name:      "Room " + id,
		Capacity:  20,
		Active:    true,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithRoomCode overrides the room code.
func WithRoomCode(code string) RoomOption {
	return func(r *persistence.Room) { r.Code = code }
}

// InactiveRoom clears the active flag.
func InactiveRoom() RoomOption {
	return func(r *persistence.Room) { r.Active = false }
}

// ----------------------------- Shift fixtures ----------------------------

// ShiftOption configures a generated shift.
type ShiftOption func(*persistence.Shift)

// NewShift returns an active shift over [start, end) given as local times.
func NewShift(userID, roomID, start, end string, opts ...ShiftOption) persistence.Shift {
	idx := atomic.AddUint64(&shiftCounter, 1)
	s := persistence.Shift{
		ID:        fmt.Sprintf("shift-%03d", idx),
		UserID:    userID,
		RoomID:    roomID,
		Start:     Local(start),
		End:       Local(end),
		Status:    persistence.ShiftActive,
		CreatedBy: "admin-1",
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithShiftID overrides the generated shift ID.
func WithShiftID(id string) ShiftOption {
	return func(s *persistence.Shift) { s.ID = id }
}

// WithShiftStatus overrides the status.
func WithShiftStatus(status persistence.ShiftStatus) ShiftOption {
	return func(s *persistence.Shift) { s.Status = status }
}

// WithCreatedBy overrides the creating admin.
func WithCreatedBy(id string) ShiftOption {
	return func(s *persistence.Shift) { s.CreatedBy = id }
}

// ----------------------------- Session fixtures --------------------------

// NewSession returns a session entered at entry (local). An empty exit leaves it open.
func NewSession(id, userID, roomID, entry, exit string) persistence.RoomSession {
	s := persistence.RoomSession{
		ID:        id,
		UserID:    userID,
		RoomID:    roomID,
		EntryTime: Local(entry),
		CreatedAt: Local(entry),
		UpdatedAt: Local(entry),
	}
	if exit != "" {
		t := Local(exit)
		s.ExitTime = &t
		s.UpdatedAt = t
	}
	return s
}

// ----------------------------- Seeding -----------------------------------

// Dataset is a set of rows written to a store in dependency order.
type Dataset struct {
	Users    []persistence.User
	Rooms    []persistence.Room
	Shifts   []persistence.Shift
	Sessions []persistence.RoomSession
	Courses  []persistence.Course
}

// Seed writes ds in one transaction and fails the test on error.
func Seed(tb testing.TB, store persistence.Store, ds Dataset) {
	tb.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx persistence.Repository) error {
		for _, u := range ds.Users {
			if err := tx.UpsertUser(ctx, u); err != nil {
				return fmt.Errorf("user %s: %w", u.ID, err)
			}
		}
		for _, r := range ds.Rooms {
			if err := tx.CreateRoom(ctx, r); err != nil {
				return fmt.Errorf("room %s: %w", r.ID, err)
			}
		}
		for _, s := range ds.Shifts {
			if err := tx.CreateShift(ctx, s); err != nil {
				return fmt.Errorf("shift %s: %w", s.ID, err)
			}
		}
		for _, s := range ds.Sessions {
			if err := tx.CreateSession(ctx, s); err != nil {
				return fmt.Errorf("session %s: %w", s.ID, err)
			}
		}
		for _, c := range ds.Courses {
			if err := tx.CreateCourse(ctx, c); err != nil {
				return fmt.Errorf("course %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		tb.Fatalf("seed store: %v", err)
	}
}

// Campus is the standard dataset: verified admins admin-1 and admin-2, an
// unverified admin, monitors M1..M4 ("Monitor One".."Monitor Four"), an
// unverified monitor, and active rooms R1..R4.
func Campus() Dataset {
	return Dataset{
		Users: []persistence.User{
			NewAdmin("admin-1"),
			NewAdmin("admin-2"),
			NewAdmin("admin-x", Unverified()),
			NewMonitor("M1", "Monitor One"),
			NewMonitor("M2", "Monitor Two"),
			NewMonitor("M3", "Monitor Three"),
			NewMonitor("M4", "Monitor Four"),
			NewMonitor("M9", "Monitor Unverified", Unverified()),
		},
		Rooms: []persistence.Room{
			NewRoom("R1"),
			NewRoom("R2"),
			NewRoom("R3"),
			NewRoom("R4"),
		},
	}
}
