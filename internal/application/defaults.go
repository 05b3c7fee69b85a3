package application

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/persistence"
)

func defaultClock(c clock.Clock) clock.Clock {
	if c != nil {
		return c
	}
	return clock.NewSystem(time.UTC)
}

func defaultIDGenerator(gen func() string) func() string {
	if gen != nil {
		return gen
	}
	return uuid.NewString
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// requireAdmin rejects principals without the admin role.
func requireAdmin(p Principal) error {
	if strings.TrimSpace(p.UserID) == "" {
		return &Error{Kind: KindForbidden, Message: "an authenticated principal is required"}
	}
	if !p.IsAdmin {
		return &Error{Kind: KindForbidden, Message: "only administrators may perform this operation"}
	}
	return nil
}

// requireOwner applies the cross-admin edit policy to a row created by createdBy.
func requireOwner(policy Policy, p Principal, createdBy string) error {
	if policy.AllowCrossAdminEdits || createdBy == "" || createdBy == p.UserID {
		return nil
	}
	return &Error{
		Kind:    KindForbidden,
		Message: "only the administrator who created this record may change it",
		Details: map[string]any{"created_by": createdBy},
	}
}

// dateWindow resolves inclusive local-day filters into an instant range.
func dateWindow(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	start, end, err := clock.DateRange(from, to, loc)
	if err != nil {
		vErr := &ValidationError{}
		vErr.add("date_range", err.Error())
		return time.Time{}, time.Time{}, vErr
	}
	return start, end, nil
}

func displayName(u persistence.User) string {
	if strings.TrimSpace(u.DisplayName) != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

func roomLabel(r persistence.Room) string {
	if r.Code != "" {
		return r.Code
	}
	return r.ID
}
