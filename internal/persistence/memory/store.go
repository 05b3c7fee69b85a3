// Package memory provides a transactional in-memory entity store. Every
// transaction works on a private copy of the dataset and publishes it on
// commit, so transactions serialize and readers never observe partial writes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/shift-compliance/internal/persistence"
	"github.com/example/shift-compliance/internal/scheduler"
)

// Store implements persistence.Store.
type Store struct {
	// sem admits one transaction at a time; a channel lets waiters honor deadlines.
	sem  chan struct{}
	mu   sync.Mutex
	data *dataset
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sem:  make(chan struct{}, 1),
		data: newDataset(),
	}
}

// Reader returns a read-only handle over the last committed dataset.
func (s *Store) Reader() persistence.Repository {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()
	return &handle{data: data}
}

// WithinTx runs fn against a private copy of the dataset and publishes the
// copy when fn succeeds before the context expires.
func (s *Store) WithinTx(ctx context.Context, fn persistence.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return contextError(ctx.Err())
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	work := s.data.clone()
	s.mu.Unlock()

	if err := fn(ctx, &handle{data: work, writable: true}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func contextError(err error) error {
	return fmt.Errorf("%w: %v", persistence.ErrTimeout, err)
}

type dataset struct {
	users         map[string]persistence.User
	rooms         map[string]persistence.Room
	shifts        map[string]persistence.Shift
	sessions      map[string]persistence.RoomSession
	courses       map[string]persistence.Course
	history       []persistence.CourseHistoryEntry
	notifications map[string]persistence.Notification
	dedup         map[string]persistence.DedupMark
}

func newDataset() *dataset {
	return &dataset{
		users:         make(map[string]persistence.User),
		rooms:         make(map[string]persistence.Room),
		shifts:        make(map[string]persistence.Shift),
		sessions:      make(map[string]persistence.RoomSession),
		courses:       make(map[string]persistence.Course),
		notifications: make(map[string]persistence.Notification),
		dedup:         make(map[string]persistence.DedupMark),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.rooms {
		c.rooms[k] = v
	}
	for k, v := range d.shifts {
		c.shifts[k] = v
	}
	for k, v := range d.sessions {
		c.sessions[k] = cloneSession(v)
	}
	for k, v := range d.courses {
		c.courses[k] = v
	}
	c.history = make([]persistence.CourseHistoryEntry, len(d.history))
	copy(c.history, d.history)
	for k, v := range d.notifications {
		c.notifications[k] = cloneNotification(v)
	}
	for k, v := range d.dedup {
		c.dedup[k] = v
	}
	return c
}

// handle implements persistence.Repository over one dataset.
type handle struct {
	data     *dataset
	writable bool
}

func (h *handle) write() error {
	if !h.writable {
		return persistence.ErrReadOnly
	}
	return nil
}

// --- users ---

func (h *handle) GetUser(_ context.Context, id string) (persistence.User, error) {
	u, ok := h.data.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return u, nil
}

func (h *handle) ListUsers(_ context.Context, filter persistence.UserFilter) ([]persistence.User, error) {
	users := make([]persistence.User, 0, len(h.data.users))
	for _, u := range h.data.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.VerifiedOnly && !u.Verified {
			continue
		}
		if filter.ActiveOnly && !u.Active {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (h *handle) UpsertUser(_ context.Context, user persistence.User) error {
	if err := h.write(); err != nil {
		return err
	}
	if existing, ok := h.data.users[user.ID]; ok && user.CreatedAt.IsZero() {
		user.CreatedAt = existing.CreatedAt
	}
	h.data.users[user.ID] = user
	return nil
}

// --- rooms ---

func (h *handle) CreateRoom(_ context.Context, room persistence.Room) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.rooms[room.ID]; ok {
		return persistence.ErrDuplicate
	}
	if h.roomCodeTaken(room.ID, room.Code) {
		return persistence.ErrDuplicate
	}
	if room.Capacity < 1 {
		return persistence.ErrConflict
	}
	h.data.rooms[room.ID] = room
	return nil
}

func (h *handle) UpdateRoom(_ context.Context, room persistence.Room) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.rooms[room.ID]; !ok {
		return persistence.ErrNotFound
	}
	if h.roomCodeTaken(room.ID, room.Code) {
		return persistence.ErrDuplicate
	}
	if room.Capacity < 1 {
		return persistence.ErrConflict
	}
	h.data.rooms[room.ID] = room
	return nil
}

func (h *handle) roomCodeTaken(id, code string) bool {
	for otherID, other := range h.data.rooms {
		if otherID != id && other.Code == code {
			return true
		}
	}
	return false
}

func (h *handle) GetRoom(_ context.Context, id string) (persistence.Room, error) {
	r, ok := h.data.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return r, nil
}

func (h *handle) ListRooms(_ context.Context) ([]persistence.Room, error) {
	rooms := make([]persistence.Room, 0, len(h.data.rooms))
	for _, r := range h.data.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })
	return rooms, nil
}

// DeleteRoom cascades to shifts and courses. Rooms with sessions are kept.
func (h *handle) DeleteRoom(_ context.Context, id string) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.rooms[id]; !ok {
		return persistence.ErrNotFound
	}
	for _, s := range h.data.sessions {
		if s.RoomID == id {
			return persistence.ErrConflict
		}
	}
	for cid, c := range h.data.courses {
		if c.RoomID == id {
			delete(h.data.courses, cid)
		}
	}
	for sid, s := range h.data.shifts {
		if s.RoomID == id {
			h.deleteShiftLocked(sid)
		}
	}
	delete(h.data.rooms, id)
	return nil
}

// --- shifts ---

func (h *handle) CreateShift(_ context.Context, shift persistence.Shift) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.shifts[shift.ID]; ok {
		return persistence.ErrDuplicate
	}
	if err := h.checkShiftRefs(shift); err != nil {
		return err
	}
	h.data.shifts[shift.ID] = shift
	return nil
}

func (h *handle) UpdateShift(_ context.Context, shift persistence.Shift) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.shifts[shift.ID]; !ok {
		return persistence.ErrNotFound
	}
	if err := h.checkShiftRefs(shift); err != nil {
		return err
	}
	h.data.shifts[shift.ID] = shift
	return nil
}

func (h *handle) checkShiftRefs(shift persistence.Shift) error {
	if _, ok := h.data.users[shift.UserID]; !ok {
		return persistence.ErrConflict
	}
	if _, ok := h.data.rooms[shift.RoomID]; !ok {
		return persistence.ErrConflict
	}
	if !shift.End.After(shift.Start) {
		return persistence.ErrConflict
	}
	return nil
}

func (h *handle) GetShift(_ context.Context, id string) (persistence.Shift, error) {
	s, ok := h.data.shifts[id]
	if !ok {
		return persistence.Shift{}, persistence.ErrNotFound
	}
	return s, nil
}

func (h *handle) ListShifts(_ context.Context, filter persistence.ShiftFilter) ([]persistence.Shift, error) {
	var out []persistence.Shift
	for _, s := range h.data.shifts {
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		if filter.RoomID != "" && s.RoomID != filter.RoomID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, s.Status) {
			continue
		}
		if !withinWindow(s.Start, &s.End, filter.From, filter.To) {
			continue
		}
		if !filter.StartedBy.IsZero() && s.Start.After(filter.StartedBy) {
			continue
		}
		if !filter.StartsAfter.IsZero() && !s.Start.After(filter.StartsAfter) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// DeleteShift cascades to the shift's courses.
func (h *handle) DeleteShift(_ context.Context, id string) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.shifts[id]; !ok {
		return persistence.ErrNotFound
	}
	h.deleteShiftLocked(id)
	return nil
}

func (h *handle) deleteShiftLocked(id string) {
	for cid, c := range h.data.courses {
		if c.ShiftID == id {
			delete(h.data.courses, cid)
		}
	}
	delete(h.data.shifts, id)
}

// --- sessions ---

func (h *handle) CreateSession(_ context.Context, session persistence.RoomSession) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.sessions[session.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := h.data.users[session.UserID]; !ok {
		return persistence.ErrConflict
	}
	if _, ok := h.data.rooms[session.RoomID]; !ok {
		return persistence.ErrConflict
	}
	if err := h.checkSingleOpen(session); err != nil {
		return err
	}
	h.data.sessions[session.ID] = cloneSession(session)
	return nil
}

func (h *handle) UpdateSession(_ context.Context, session persistence.RoomSession) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.sessions[session.ID]; !ok {
		return persistence.ErrNotFound
	}
	if session.ExitTime != nil && !session.ExitTime.After(session.EntryTime) {
		return persistence.ErrConflict
	}
	if err := h.checkSingleOpen(session); err != nil {
		return err
	}
	h.data.sessions[session.ID] = cloneSession(session)
	return nil
}

func (h *handle) checkSingleOpen(session persistence.RoomSession) error {
	if !session.Open() {
		return nil
	}
	for id, other := range h.data.sessions {
		if id != session.ID && other.UserID == session.UserID && other.Open() {
			return persistence.ErrDuplicate
		}
	}
	return nil
}

func (h *handle) GetSession(_ context.Context, id string) (persistence.RoomSession, error) {
	s, ok := h.data.sessions[id]
	if !ok {
		return persistence.RoomSession{}, persistence.ErrNotFound
	}
	return cloneSession(s), nil
}

func (h *handle) ListSessions(_ context.Context, filter persistence.SessionFilter) ([]persistence.RoomSession, error) {
	var out []persistence.RoomSession
	for _, s := range h.data.sessions {
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		if filter.RoomID != "" && s.RoomID != filter.RoomID {
			continue
		}
		if filter.OpenOnly && !s.Open() {
			continue
		}
		if !withinWindow(s.EntryTime, s.ExitTime, filter.From, filter.To) {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out, nil
}

// --- courses ---

func (h *handle) CreateCourse(_ context.Context, course persistence.Course) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.courses[course.ID]; ok {
		return persistence.ErrDuplicate
	}
	if err := h.checkCourseRefs(course); err != nil {
		return err
	}
	h.data.courses[course.ID] = course
	return nil
}

func (h *handle) UpdateCourse(_ context.Context, course persistence.Course) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.courses[course.ID]; !ok {
		return persistence.ErrNotFound
	}
	if err := h.checkCourseRefs(course); err != nil {
		return err
	}
	h.data.courses[course.ID] = course
	return nil
}

func (h *handle) checkCourseRefs(course persistence.Course) error {
	if _, ok := h.data.rooms[course.RoomID]; !ok {
		return persistence.ErrConflict
	}
	if _, ok := h.data.shifts[course.ShiftID]; !ok {
		return persistence.ErrConflict
	}
	if !course.End.After(course.Start) {
		return persistence.ErrConflict
	}
	return nil
}

func (h *handle) GetCourse(_ context.Context, id string) (persistence.Course, error) {
	c, ok := h.data.courses[id]
	if !ok {
		return persistence.Course{}, persistence.ErrNotFound
	}
	return c, nil
}

func (h *handle) ListCourses(_ context.Context, filter persistence.CourseFilter) ([]persistence.Course, error) {
	var out []persistence.Course
	for _, c := range h.data.courses {
		if filter.RoomID != "" && c.RoomID != filter.RoomID {
			continue
		}
		if filter.ShiftID != "" && c.ShiftID != filter.ShiftID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsCourseStatus(filter.Statuses, c.Status) {
			continue
		}
		if !withinWindow(c.Start, &c.End, filter.From, filter.To) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (h *handle) DeleteCourse(_ context.Context, id string) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.courses[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(h.data.courses, id)
	return nil
}

func (h *handle) AppendCourseHistory(_ context.Context, entry persistence.CourseHistoryEntry) error {
	if err := h.write(); err != nil {
		return err
	}
	seq := 0
	for _, e := range h.data.history {
		if e.ID == entry.ID {
			return persistence.ErrDuplicate
		}
		if e.CourseID == entry.CourseID && e.Seq > seq {
			seq = e.Seq
		}
	}
	entry.Seq = seq + 1
	changes := make(map[string]persistence.FieldChange, len(entry.Changes))
	for k, v := range entry.Changes {
		changes[k] = v
	}
	entry.Changes = changes
	h.data.history = append(h.data.history, entry)
	return nil
}

func (h *handle) ListCourseHistory(_ context.Context, courseID string) ([]persistence.CourseHistoryEntry, error) {
	var out []persistence.CourseHistoryEntry
	for _, e := range h.data.history {
		if e.CourseID == courseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// --- notifications ---

func (h *handle) CreateNotification(_ context.Context, n persistence.Notification) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.notifications[n.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := h.data.users[n.RecipientID]; !ok {
		return persistence.ErrConflict
	}
	h.data.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (h *handle) UpdateNotification(_ context.Context, n persistence.Notification) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.notifications[n.ID]; !ok {
		return persistence.ErrNotFound
	}
	h.data.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (h *handle) GetNotification(_ context.Context, id string) (persistence.Notification, error) {
	n, ok := h.data.notifications[id]
	if !ok {
		return persistence.Notification{}, persistence.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (h *handle) ListNotifications(_ context.Context, filter persistence.NotificationFilter) ([]persistence.Notification, error) {
	var out []persistence.Notification
	for _, n := range h.data.notifications {
		if filter.RecipientID != "" && n.RecipientID != filter.RecipientID {
			continue
		}
		if filter.UnreadOnly && n.Read {
			continue
		}
		if filter.RelatedID != "" && n.RelatedID != filter.RelatedID {
			continue
		}
		if filter.Kind != "" && n.Kind != filter.Kind {
			continue
		}
		out = append(out, cloneNotification(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (h *handle) GetDedupMark(_ context.Context, key string) (persistence.DedupMark, error) {
	m, ok := h.data.dedup[key]
	if !ok {
		return persistence.DedupMark{}, persistence.ErrNotFound
	}
	return m, nil
}

func (h *handle) DeleteNotification(_ context.Context, id string) error {
	if err := h.write(); err != nil {
		return err
	}
	if _, ok := h.data.notifications[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(h.data.notifications, id)
	return nil
}

func (h *handle) ClaimDedupMark(_ context.Context, mark persistence.DedupMark, staleBefore time.Time) error {
	if err := h.write(); err != nil {
		return err
	}
	if current, ok := h.data.dedup[mark.Key]; ok && !current.EmittedAt.Before(staleBefore) {
		return persistence.ErrDuplicate
	}
	h.data.dedup[mark.Key] = mark
	return nil
}

func (h *handle) DeleteDedupMark(_ context.Context, key string) error {
	if err := h.write(); err != nil {
		return err
	}
	delete(h.data.dedup, key)
	return nil
}

// --- locks ---
// Transactions already run one at a time, so locks only verify existence.

func (h *handle) LockUser(_ context.Context, id string) error {
	if _, ok := h.data.users[id]; !ok {
		return persistence.ErrNotFound
	}
	return nil
}

func (h *handle) LockRoom(_ context.Context, id string) error {
	if _, ok := h.data.rooms[id]; !ok {
		return persistence.ErrNotFound
	}
	return nil
}

func (h *handle) LockShift(_ context.Context, id string) error {
	if _, ok := h.data.shifts[id]; !ok {
		return persistence.ErrNotFound
	}
	return nil
}

func (h *handle) LockSession(_ context.Context, id string) error {
	if _, ok := h.data.sessions[id]; !ok {
		return persistence.ErrNotFound
	}
	return nil
}

// --- helpers ---

var (
	minTime = time.Unix(0, 0).UTC()
	maxTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// withinWindow reports whether [start, end) overlaps [from, to); a nil end is open.
func withinWindow(start time.Time, end *time.Time, from, to time.Time) bool {
	if from.IsZero() && to.IsZero() {
		return true
	}
	row := scheduler.NewInterval(start, maxTime)
	if end != nil {
		row.End = *end
	}
	window := scheduler.NewInterval(from, to)
	if from.IsZero() {
		window.Start = minTime
	}
	if to.IsZero() {
		window.End = maxTime
	}
	return row.Overlaps(window)
}

func containsStatus(statuses []persistence.ShiftStatus, s persistence.ShiftStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func containsCourseStatus(statuses []persistence.CourseStatus, s persistence.CourseStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func cloneSession(s persistence.RoomSession) persistence.RoomSession {
	if s.ExitTime != nil {
		exit := *s.ExitTime
		s.ExitTime = &exit
	}
	return s
}

func cloneNotification(n persistence.Notification) persistence.Notification {
	if n.ReadAt != nil {
		readAt := *n.ReadAt
		n.ReadAt = &readAt
	}
	return n
}

var (
	_ persistence.Store      = (*Store)(nil)
	_ persistence.Repository = (*handle)(nil)
)
