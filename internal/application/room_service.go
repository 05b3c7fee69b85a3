package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/persistence"
)

// RoomService orchestrates validation, authorization, and persistence for rooms.
type RoomService struct {
	store       persistence.Store
	clock       clock.Clock
	idGenerator func() string
	logger      *slog.Logger
}

// NewRoomService constructs a room service with the provided dependencies.
func NewRoomService(store persistence.Store, clk clock.Clock, idGenerator func() string) *RoomService {
	return NewRoomServiceWithLogger(store, clk, idGenerator, nil)
}

// NewRoomServiceWithLogger constructs a room service with a specified logger.
func NewRoomServiceWithLogger(store persistence.Store, clk clock.Clock, idGenerator func() string, logger *slog.Logger) *RoomService {
	return &RoomService{
		store:       store,
		clock:       defaultClock(clk),
		idGenerator: defaultIDGenerator(idGenerator),
		logger:      defaultLogger(logger),
	}
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoomService", operation, attrs...)
}

// Create validates input and persists a new active room for administrators.
func (s *RoomService) Create(ctx context.Context, principal Principal, input RoomInput) (room persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Create",
		"principal_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", room.ID).InfoContext(ctx, "room created")
	}()

	if err = requireAdmin(principal); err != nil {
		return
	}
	if vErr := validateRoomInput(input); vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.clock.Now()
	room = persistence.Room{
		ID:        s.idGenerator(),
		Code:      normalizeRoomCode(input.Code),
		Name:      strings.TrimSpace(input.Name),
		Capacity:  input.Capacity,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		return tx.CreateRoom(ctx, room)
	})
	if err != nil {
		err = mapRoomRepoError(err)
		room = persistence.Room{}
	}
	return
}

// Update applies a patch to an existing room for administrators.
func (s *RoomService) Update(ctx context.Context, principal Principal, roomID string, patch RoomPatch) (room persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Update",
		"principal_id", principal.UserID,
		"room_id", roomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "room updated")
	}()

	if err = requireAdmin(principal); err != nil {
		return
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		if err := tx.LockRoom(ctx, roomID); err != nil {
			return err
		}
		existing, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}

		updated := existing
		if patch.Code != nil {
			updated.Code = normalizeRoomCode(*patch.Code)
		}
		if patch.Name != nil {
			updated.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Capacity != nil {
			updated.Capacity = *patch.Capacity
		}
		if patch.Active != nil {
			updated.Active = *patch.Active
		}
		if vErr := validateRoomInput(RoomInput{Code: updated.Code, Name: updated.Name, Capacity: updated.Capacity}); vErr.HasErrors() {
			return vErr
		}
		updated.UpdatedAt = s.clock.Now()
		if err := tx.UpdateRoom(ctx, updated); err != nil {
			return err
		}
		room = updated
		return nil
	})
	if err != nil {
		err = mapRoomRepoError(err)
	}
	return
}

// Deactivate soft-deletes a room. Deactivating an inactive room is a no-op.
func (s *RoomService) Deactivate(ctx context.Context, principal Principal, roomID string) (persistence.Room, error) {
	inactive := false
	return s.Update(ctx, principal, roomID, RoomPatch{Active: &inactive})
}

// Delete hard-deletes a room with no session history, cascading to its shifts
// and courses. A room with any historical session is deactivated instead and
// deleted reports false.
func (s *RoomService) Delete(ctx context.Context, principal Principal, roomID string) (deleted bool, err error) {
	if s == nil {
		return false, fmt.Errorf("RoomService is nil")
	}

	logger := s.loggerWith(ctx, "Delete",
		"principal_id", principal.UserID,
		"room_id", roomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("hard_delete", deleted).InfoContext(ctx, "room removed")
	}()

	if err = requireAdmin(principal); err != nil {
		return
	}

	now := s.clock.Now()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Repository) error {
		if err := tx.LockRoom(ctx, roomID); err != nil {
			return err
		}
		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}

		sessions, err := tx.ListSessions(ctx, persistence.SessionFilter{RoomID: roomID})
		if err != nil {
			return err
		}
		if len(sessions) > 0 {
			room.Active = false
			room.UpdatedAt = now
			return tx.UpdateRoom(ctx, room)
		}

		courses, err := tx.ListCourses(ctx, persistence.CourseFilter{RoomID: roomID})
		if err != nil {
			return err
		}
		for _, c := range courses {
			if err := appendHistory(ctx, tx, s.idGenerator, c.ID, persistence.HistoryDelete, CourseAttributes(c), nil, principal.UserID, now); err != nil {
				return err
			}
		}
		if err := tx.DeleteRoom(ctx, roomID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		deleted = false
		err = mapRoomRepoError(err)
	}
	return
}

// Get returns one room.
func (s *RoomService) Get(ctx context.Context, roomID string) (persistence.Room, error) {
	room, err := s.store.Reader().GetRoom(ctx, roomID)
	if err != nil {
		return persistence.Room{}, mapRoomRepoError(err)
	}
	return room, nil
}

// List returns rooms ordered by code. activeOnly hides deactivated rooms.
func (s *RoomService) List(ctx context.Context, activeOnly bool) ([]persistence.Room, error) {
	raw, err := s.store.Reader().ListRooms(ctx)
	if err != nil {
		return nil, mapRoomRepoError(err)
	}
	rooms := make([]persistence.Room, 0, len(raw))
	for _, r := range raw {
		if activeOnly && !r.Active {
			continue
		}
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Code == rooms[j].Code {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Code < rooms[j].Code
	})
	return rooms, nil
}

func normalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateRoomInput(input RoomInput) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(input.Code) == "" {
		vErr.add("code", "code is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		vErr.add("name", "name is required")
	}
	if input.Capacity < 1 {
		vErr.add("capacity", "capacity must be at least 1")
	}

	return vErr
}

func mapRoomRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		vErr := &ValidationError{}
		vErr.add("code", "code is already in use")
		return vErr
	}
	if errors.Is(err, persistence.ErrConflict) {
		return &Error{
			Kind:       KindInternal,
			Message:    "room is still referenced",
			Suggestion: "deactivate the room instead",
			Err:        err,
		}
	}
	return mapStoreError(err, "room")
}
