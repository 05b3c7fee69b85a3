package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/scheduler"
)

// ShiftService validates and persists shifts. Every write runs the validation
// pipeline inside the transaction that holds the user and room locks.
type ShiftService struct {
	store       persistence.Store
	clock       clock.Clock
	idGenerator func() string
	policy      Policy
	logger      *slog.Logger
}

// NewShiftService wires dependencies for shift operations.
func NewShiftService(store persistence.Store, clk clock.Clock, idGenerator func() string, policy Policy) *ShiftService {
	return NewShiftServiceWithLogger(store, clk, idGenerator, policy, nil)
}

// NewShiftServiceWithLogger wires dependencies with a specified logger.
func NewShiftServiceWithLogger(store persistence.Store, clk clock.Clock, idGenerator func() string, policy Policy, logger *slog.Logger) *ShiftService {
	return &ShiftService{
		store:       store,
		clock:       defaultClock(clk),
		idGenerator: defaultIDGenerator(idGenerator),
		policy:      policy,
		logger:      defaultLogger(logger),
	}
}

func (s *ShiftService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ShiftService", operation, attrs...)
}

// Create validates input and stores a new active shift.
func (s *ShiftService) Create(ctx context.Context, principal Principal, input ShiftInput) (shift persistence.Shift, err error) {
	if s == nil {
		return persistence.Shift{}, fmt.Errorf("ShiftService is nil")
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Create",
		"principal_id", principal.UserID,
		"user_id", input.UserID,
		"room_id", input.RoomID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "shift created", "shift_id", shift.ID) }()

	if err = requireAdmin(principal); err != nil {
		return
	}
	if vErr := requireFields(map[string]string{"user_id": input.UserID, "room_id": input.RoomID}); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.clock.Now()
	candidate := persistence.Shift{
		ID:        s.idGenerator(),
		UserID:    strings.TrimSpace(input.UserID),
		RoomID:    strings.TrimSpace(input.RoomID),
		Start:     input.Start,
		End:       input.End,
		Status:    persistence.ShiftActive,
		Recurring: input.Recurring,
		Notes:     strings.TrimSpace(input.Notes),
		CreatedBy: principal.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		if err := s.validate(ctx, tx, candidate, "", true); err != nil {
			return err
		}
		return tx.CreateShift(ctx, candidate)
	})
	if err != nil {
		err = mapStoreError(err, "shift")
		return persistence.Shift{}, err
	}
	return candidate, nil
}

// Update applies patch to a shift. While the result is active the full
// pipeline runs again with the shift itself excluded from overlap search.
func (s *ShiftService) Update(ctx context.Context, principal Principal, shiftID string, patch ShiftPatch) (shift persistence.Shift, err error) {
	if s == nil {
		return persistence.Shift{}, fmt.Errorf("ShiftService is nil")
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Update",
		"principal_id", principal.UserID,
		"shift_id", shiftID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "shift updated", "status", string(shift.Status)) }()

	if err = requireAdmin(principal); err != nil {
		return
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		existing, err := s.lockShift(ctx, tx, shiftID, patch.UserID, patch.RoomID)
		if err != nil {
			return err
		}
		if err := requireOwner(s.policy, principal, existing.CreatedBy); err != nil {
			return err
		}
		if existing.Status == persistence.ShiftCompleted {
			return &Error{
				Kind:    KindShiftInactive,
				Message: "a completed shift can no longer be changed",
				Details: map[string]any{"shift_id": existing.ID, "status": string(existing.Status)},
			}
		}

		updated := applyShiftPatch(existing, patch)
		if patch.Status != nil {
			switch *patch.Status {
			case persistence.ShiftActive, persistence.ShiftCompleted, persistence.ShiftCancelled:
			default:
				vErr := &ValidationError{}
				vErr.add("status", "status must be active, completed or cancelled")
				return vErr
			}
		}
		if vErr := requireFields(map[string]string{"user_id": updated.UserID, "room_id": updated.RoomID}); vErr.HasErrors() {
			return vErr
		}

		if updated.Status == persistence.ShiftActive {
			if err := s.validate(ctx, tx, updated, updated.ID, false); err != nil {
				return err
			}
		} else if err := s.validateStructure(updated, false); err != nil {
			return err
		}

		updated.UpdatedAt = s.clock.Now()
		if err := tx.UpdateShift(ctx, updated); err != nil {
			return err
		}
		shift = updated
		return nil
	})
	if err != nil {
		err = mapStoreError(err, "shift")
		return persistence.Shift{}, err
	}
	return shift, nil
}

// Cancel marks a shift cancelled. Cancelling a cancelled shift returns it unchanged.
func (s *ShiftService) Cancel(ctx context.Context, principal Principal, shiftID string) (shift persistence.Shift, err error) {
	if s == nil {
		return persistence.Shift{}, fmt.Errorf("ShiftService is nil")
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Cancel",
		"principal_id", principal.UserID,
		"shift_id", shiftID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "shift cancelled") }()

	if err = requireAdmin(principal); err != nil {
		return
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		existing, err := s.lockShift(ctx, tx, shiftID, nil, nil)
		if err != nil {
			return err
		}
		if err := requireOwner(s.policy, principal, existing.CreatedBy); err != nil {
			return err
		}
		switch existing.Status {
		case persistence.ShiftCancelled:
			shift = existing
			return nil
		case persistence.ShiftCompleted:
			return &Error{
				Kind:    KindShiftInactive,
				Message: "a completed shift cannot be cancelled",
				Details: map[string]any{"shift_id": existing.ID},
			}
		}
		existing.Status = persistence.ShiftCancelled
		existing.UpdatedAt = s.clock.Now()
		if err := tx.UpdateShift(ctx, existing); err != nil {
			return err
		}
		shift = existing
		return nil
	})
	if err != nil {
		err = mapStoreError(err, "shift")
		return persistence.Shift{}, err
	}
	return shift, nil
}

// Delete removes a shift and its courses. Each removed course gets a delete
// history entry; room sessions are kept.
func (s *ShiftService) Delete(ctx context.Context, principal Principal, shiftID string) (err error) {
	if s == nil {
		return fmt.Errorf("ShiftService is nil")
	}
	started := time.Now()
	logger := s.loggerWith(ctx, "Delete",
		"principal_id", principal.UserID,
		"shift_id", shiftID,
	)
	defer func() { logOutcome(ctx, logger, started, err, "shift deleted") }()

	if err = requireAdmin(principal); err != nil {
		return
	}

	now := s.clock.Now()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		existing, err := s.lockShift(ctx, tx, shiftID, nil, nil)
		if err != nil {
			return err
		}
		if err := requireOwner(s.policy, principal, existing.CreatedBy); err != nil {
			return err
		}
		courses, err := tx.ListCourses(ctx, persistence.CourseFilter{ShiftID: shiftID})
		if err != nil {
			return err
		}
		for _, c := range courses {
			if err := appendHistory(ctx, tx, s.idGenerator, c.ID, persistence.HistoryDelete, CourseAttributes(c), nil, principal.UserID, now); err != nil {
				return err
			}
		}
		return tx.DeleteShift(ctx, shiftID)
	})
	return mapStoreError(err, "shift")
}

// Get returns one shift with its derived status.
func (s *ShiftService) Get(ctx context.Context, shiftID string) (persistence.Shift, error) {
	shift, err := s.store.Reader().GetShift(ctx, shiftID)
	if err != nil {
		return persistence.Shift{}, mapStoreError(err, "shift")
	}
	shift.Status = shift.EffectiveStatus(s.clock.Now())
	return shift, nil
}

// List filters shifts by user, room, derived status and local date range.
func (s *ShiftService) List(ctx context.Context, query ShiftQuery) (Page[persistence.Shift], error) {
	from, to, err := dateWindow(query.DateFrom, query.DateTo, s.clock.Location())
	if err != nil {
		return Page[persistence.Shift]{}, err
	}
	filter := persistence.ShiftFilter{
		UserID: strings.TrimSpace(query.UserID),
		RoomID: strings.TrimSpace(query.RoomID),
		From:   from,
		To:     to,
	}
	switch query.Status {
	case "":
	case persistence.ShiftActive:
		filter.Statuses = []persistence.ShiftStatus{persistence.ShiftActive}
	case persistence.ShiftCompleted:
		filter.Statuses = []persistence.ShiftStatus{persistence.ShiftActive, persistence.ShiftCompleted}
	case persistence.ShiftCancelled:
		filter.Statuses = []persistence.ShiftStatus{persistence.ShiftCancelled}
	default:
		vErr := &ValidationError{}
		vErr.add("status", "status must be active, completed or cancelled")
		return Page[persistence.Shift]{}, vErr
	}

	rows, err := s.store.Reader().ListShifts(ctx, filter)
	if err != nil {
		return Page[persistence.Shift]{}, mapStoreError(err, "shift")
	}
	return Paginate(s.withEffectiveStatus(rows, query.Status), query.Page), nil
}

// Upcoming lists active shifts that have not started yet, soonest first.
func (s *ShiftService) Upcoming(ctx context.Context, userID, roomID string, page PageRequest) (Page[persistence.Shift], error) {
	rows, err := s.store.Reader().ListShifts(ctx, persistence.ShiftFilter{
		UserID:      strings.TrimSpace(userID),
		RoomID:      strings.TrimSpace(roomID),
		Statuses:    []persistence.ShiftStatus{persistence.ShiftActive},
		StartsAfter: s.clock.Now(),
	})
	if err != nil {
		return Page[persistence.Shift]{}, mapStoreError(err, "shift")
	}
	return Paginate(rows, page), nil
}

// Current lists active shifts whose interval contains now.
func (s *ShiftService) Current(ctx context.Context, userID, roomID string) ([]persistence.Shift, error) {
	rows, err := s.store.Reader().ListShifts(ctx, persistence.ActiveShiftsAt(s.clock.Now(), strings.TrimSpace(userID), strings.TrimSpace(roomID)))
	if err != nil {
		return nil, mapStoreError(err, "shift")
	}
	return rows, nil
}

func (s *ShiftService) withEffectiveStatus(rows []persistence.Shift, want persistence.ShiftStatus) []persistence.Shift {
	now := s.clock.Now()
	out := make([]persistence.Shift, 0, len(rows))
	for _, row := range rows {
		row.Status = row.EffectiveStatus(now)
		if want != "" && row.Status != want {
			continue
		}
		out = append(out, row)
	}
	return out
}

// lockShift takes user and room locks before the shift lock. The patch values,
// when set, are locked too since the shift may move to them.
func (s *ShiftService) lockShift(ctx context.Context, tx persistence.Repository, shiftID string, userID, roomID *string) (persistence.Shift, error) {
	current, err := tx.GetShift(ctx, shiftID)
	if err != nil {
		return persistence.Shift{}, err
	}
	users := uniqueStrings([]string{current.UserID, deref(userID)})
	rooms := uniqueStrings([]string{current.RoomID, deref(roomID)})
	for _, id := range users {
		if err := tx.LockUser(ctx, id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return persistence.Shift{}, err
		}
	}
	for _, id := range rooms {
		if err := tx.LockRoom(ctx, id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return persistence.Shift{}, err
		}
	}
	if err := tx.LockShift(ctx, shiftID); err != nil {
		return persistence.Shift{}, err
	}
	return tx.GetShift(ctx, shiftID)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func applyShiftPatch(shift persistence.Shift, patch ShiftPatch) persistence.Shift {
	if patch.UserID != nil {
		shift.UserID = strings.TrimSpace(*patch.UserID)
	}
	if patch.RoomID != nil {
		shift.RoomID = strings.TrimSpace(*patch.RoomID)
	}
	if patch.Start != nil {
		shift.Start = *patch.Start
	}
	if patch.End != nil {
		shift.End = *patch.End
	}
	if patch.Status != nil {
		shift.Status = *patch.Status
	}
	if patch.Recurring != nil {
		shift.Recurring = *patch.Recurring
	}
	if patch.Notes != nil {
		shift.Notes = strings.TrimSpace(*patch.Notes)
	}
	return shift
}

func (s *ShiftService) validateStructure(shift persistence.Shift, creating bool) error {
	loc := s.clock.Location()
	interval := shiftInterval(shift)
	if !interval.Valid() {
		return newError(KindBadInterval, "shift end %s must be after its start %s",
			clock.Format(shift.End, loc), clock.Format(shift.Start, loc)).
			WithDetail("start", shift.Start).WithDetail("end", shift.End)
	}
	if limit := s.policy.MaxShiftDuration; limit > 0 && interval.Duration() > limit {
		return newError(KindTooLong, "shift %s lasts %s, longer than the %s maximum",
			clock.FormatRange(shift.Start, shift.End, loc), interval.Duration(), limit).
			WithDetail("max_hours", limit.Hours())
	}
	if creating && shift.Start.Before(s.clock.Now()) {
		return newError(KindPastStart, "shift start %s is in the past", clock.Format(shift.Start, loc)).
			WithDetail("start", shift.Start)
	}
	return nil
}

// validate runs the ordered pipeline: structure, monitor, room, then both
// conflict predicates. Room conflict wins when both hold.
func (s *ShiftService) validate(ctx context.Context, tx persistence.Repository, shift persistence.Shift, excludeID string, creating bool) error {
	if err := s.validateStructure(shift, creating); err != nil {
		return err
	}

	if err := tx.LockUser(ctx, shift.UserID); err != nil {
		return notFoundAs(err, "monitor", shift.UserID)
	}
	monitor, err := tx.GetUser(ctx, shift.UserID)
	if err != nil {
		return notFoundAs(err, "monitor", shift.UserID)
	}
	if err := checkMonitor(monitor); err != nil {
		return err
	}

	if err := tx.LockRoom(ctx, shift.RoomID); err != nil {
		return notFoundAs(err, "room", shift.RoomID)
	}
	room, err := tx.GetRoom(ctx, shift.RoomID)
	if err != nil {
		return notFoundAs(err, "room", shift.RoomID)
	}
	if !room.Active {
		return newError(KindInactiveRoom, "room %s is not active", roomLabel(room)).WithDetail("room_id", room.ID)
	}

	conflicts, err := NewOverlapIndex(tx).ShiftConflicts(ctx, shift, excludeID)
	if err != nil {
		return err
	}
	userConflict, hasUserConflict := scheduler.FirstOfType(conflicts, scheduler.ConflictTypeUser)

	loc := s.clock.Location()
	if roomConflict, ok := scheduler.FirstOfType(conflicts, scheduler.ConflictTypeRoom); ok {
		other := roomConflict.With
		name := other.UserID
		if u, err := tx.GetUser(ctx, other.UserID); err == nil {
			name = displayName(u)
		}
		staffed := name
		if name != other.UserID {
			staffed = fmt.Sprintf("%s (%s)", name, other.UserID)
		}
		return &Error{
			Kind: KindRoomConflict,
			Message: fmt.Sprintf("room %s is already staffed by %s during %s",
				roomLabel(room), staffed, clock.FormatRange(other.Start, other.End, loc)),
			Details: map[string]any{
				"conflicting_shift_id": other.ID,
				"monitor_id":           other.UserID,
				"monitor_name":         name,
				"start":                other.Start,
				"end":                  other.End,
				"user_conflict":        hasUserConflict,
			},
			Suggestion: "choose another room or a non-overlapping interval",
		}
	}
	if hasUserConflict {
		other := userConflict.With
		label := other.RoomID
		if r, err := tx.GetRoom(ctx, other.RoomID); err == nil {
			label = roomLabel(r)
		}
		return &Error{
			Kind: KindUserConflict,
			Message: fmt.Sprintf("%s already has a shift in room %s during %s",
				displayName(monitor), label, clock.FormatRange(other.Start, other.End, loc)),
			Details: map[string]any{
				"conflicting_shift_id": other.ID,
				"room_id":              other.RoomID,
				"room_code":            label,
				"start":                other.Start,
				"end":                  other.End,
			},
			Suggestion: "pick a non-overlapping interval for this monitor",
		}
	}
	return nil
}

func checkMonitor(u persistence.User) error {
	if u.Role != persistence.RoleMonitor {
		return newError(KindWrongRole, "%s is not a monitor", displayName(u)).
			WithDetail("user_id", u.ID).WithDetail("role", string(u.Role))
	}
	if !u.Verified {
		return newError(KindUnverified, "monitor %s is not verified", displayName(u)).
			WithDetail("user_id", u.ID)
	}
	return nil
}

// notFoundAs names the missing row in not-found errors.
func notFoundAs(err error, entity, id string) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return newError(KindNotFound, "%s %s not found", entity, id).WithDetail(entity+"_id", id)
	}
	return err
}

func requireFields(fields map[string]string) *ValidationError {
	vErr := &ValidationError{}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			vErr.add(name, name+" is required")
		}
	}
	return vErr
}
