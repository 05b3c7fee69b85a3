package application

import (
	"context"
	"sort"
	"time"

	"github.com/example/shift-compliance/internal/persistence"
)

// historyTimeLayout renders instants inside history diffs.
const historyTimeLayout = time.RFC3339Nano

// CourseAttributes is the audited attribute set of a course.
func CourseAttributes(c persistence.Course) map[string]string {
	return map[string]string{
		"name":        c.Name,
		"description": c.Description,
		"room_id":     c.RoomID,
		"shift_id":    c.ShiftID,
		"start":       c.Start.UTC().Format(historyTimeLayout),
		"end":         c.End.UTC().Format(historyTimeLayout),
		"status":      string(c.Status),
		"created_by":  c.CreatedBy,
	}
}

// diffAttributes returns only the keys whose value or presence differs.
func diffAttributes(before, after map[string]string) map[string]persistence.FieldChange {
	changes := make(map[string]persistence.FieldChange)
	for key, oldValue := range before {
		newValue, ok := after[key]
		switch {
		case !ok:
			changes[key] = persistence.FieldChange{Old: strPtr(oldValue)}
		case newValue != oldValue:
			changes[key] = persistence.FieldChange{Old: strPtr(oldValue), New: strPtr(newValue)}
		}
	}
	for key, newValue := range after {
		if _, ok := before[key]; !ok {
			changes[key] = persistence.FieldChange{New: strPtr(newValue)}
		}
	}
	return changes
}

func strPtr(v string) *string { return &v }

// ChangedFields lists the keys of a diff in stable order.
func ChangedFields(changes map[string]persistence.FieldChange) []string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendHistory(ctx context.Context, tx persistence.CourseRepository, ids func() string, courseID string, action persistence.HistoryAction, before, after map[string]string, actorID string, at time.Time) error {
	return tx.AppendCourseHistory(ctx, persistence.CourseHistoryEntry{
		ID:        ids(),
		CourseID:  courseID,
		Action:    action,
		Changes:   diffAttributes(before, after),
		ActorID:   actorID,
		CreatedAt: at,
	})
}

// ReplayCourseHistory applies entries in order to an empty baseline. After a
// delete entry the result is empty.
func ReplayCourseHistory(entries []persistence.CourseHistoryEntry) map[string]string {
	ordered := make([]persistence.CourseHistoryEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	state := make(map[string]string)
	for _, e := range ordered {
		for key, change := range e.Changes {
			if change.New == nil {
				delete(state, key)
				continue
			}
			state[key] = *change.New
		}
	}
	return state
}
