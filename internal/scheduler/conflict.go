// Package scheduler holds the half-open interval algebra shared by every
// exclusivity and coverage rule.
package scheduler

import (
	"sort"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval without validating it.
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Valid reports whether End is strictly after Start.
func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports strict overlap: touching intervals do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return other.Start.Before(i.End) && other.End.After(i.Start)
}

// Covers reports whether other lies entirely inside i, endpoints included.
func (i Interval) Covers(other Interval) bool {
	return !other.Start.Before(i.Start) && !other.End.After(i.End)
}

// Contains reports whether t falls in [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Widen extends the interval by before and after on each side.
func (i Interval) Widen(before, after time.Duration) Interval {
	return Interval{Start: i.Start.Add(-before), End: i.End.Add(after)}
}

// Booking is an interval that claims one user and one room.
type Booking struct {
	ID     string
	UserID string
	RoomID string
	Interval
}

// ConflictType describes which exclusivity dimension a conflict violates.
type ConflictType string

const (
	// ConflictTypeUser indicates the user is double-booked.
	ConflictTypeUser ConflictType = "user"
	// ConflictTypeRoom indicates the room is double-booked.
	ConflictTypeRoom ConflictType = "room"
)

// Conflict names the existing booking a candidate collides with.
type Conflict struct {
	With Booking
	Type ConflictType
}

// DetectConflicts returns every user and room collision between candidate and
// existing, ordered by the existing booking's start. The candidate's own ID is
// ignored so edits can be checked against their stored version.
func DetectConflicts(existing []Booking, candidate Booking) []Conflict {
	var conflicts []Conflict
	for _, b := range existing {
		if b.ID != "" && b.ID == candidate.ID {
			continue
		}
		if !b.Overlaps(candidate.Interval) {
			continue
		}
		if candidate.UserID != "" && b.UserID == candidate.UserID {
			conflicts = append(conflicts, Conflict{With: b, Type: ConflictTypeUser})
		}
		if candidate.RoomID != "" && b.RoomID == candidate.RoomID {
			conflicts = append(conflicts, Conflict{With: b, Type: ConflictTypeRoom})
		}
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].With.Start.Before(conflicts[j].With.Start)
	})
	return conflicts
}

// FirstOfType returns the earliest conflict of the given type.
func FirstOfType(conflicts []Conflict, kind ConflictType) (Conflict, bool) {
	for _, c := range conflicts {
		if c.Type == kind {
			return c, true
		}
	}
	return Conflict{}, false
}

// Overlapping filters items to those whose interval strictly overlaps window,
// skipping the item whose id equals excludeID.
func Overlapping[T any](items []T, window Interval, excludeID string, key func(T) (string, Interval)) []T {
	var out []T
	for _, item := range items {
		id, iv := key(item)
		if excludeID != "" && id == excludeID {
			continue
		}
		if iv.Overlaps(window) {
			out = append(out, item)
		}
	}
	return out
}
