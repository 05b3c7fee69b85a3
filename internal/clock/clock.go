// Package clock is the single source of wall-clock time and of the local zone
// used for rendering and day bucketing.
package clock

import (
	"fmt"
	"strings"
	"time"

	// Embedded zone data keeps America/Bogota resolvable on minimal images.
	_ "time/tzdata"
)

const (
	// DefaultZone is the configured zone when CORE_TZ is unset.
	DefaultZone = "America/Bogota"
	// DateLayout is the day-resolution filter format accepted on list endpoints.
	DateLayout = "2006-01-02"
	// DisplayLayout renders instants in messages.
	DisplayLayout = "2006-01-02 15:04"
)

// Clock reports the current instant and the zone used for presentation.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// System reads the process wall clock.
type System struct {
	loc *time.Location
}

// NewSystem returns a wall clock bound to loc. A nil loc falls back to UTC.
func NewSystem(loc *time.Location) System {
	if loc == nil {
		loc = time.UTC
	}
	return System{loc: loc}
}

// Now returns the current instant.
func (s System) Now() time.Time { return time.Now() }

// Location returns the presentation zone.
func (s System) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// Func adapts a plain now function, so injected test clocks satisfy Clock.
type Func struct {
	NowFn func() time.Time
	Loc   *time.Location
}

// Now calls the wrapped function, or time.Now when none is set.
func (f Func) Now() time.Time {
	if f.NowFn == nil {
		return time.Now()
	}
	return f.NowFn()
}

// Location returns the wrapped zone or UTC.
func (f Func) Location() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

// LoadLocation resolves an IANA zone name, defaulting to DefaultZone when blank.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("clock: load zone %q: %w", name, err)
	}
	return loc, nil
}

// ParseDate parses a YYYY-MM-DD value as local midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock: invalid date %q: %w", value, err)
	}
	return day, nil
}

// DayBounds returns the half-open local day [midnight, next midnight) containing t.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// DateRange converts an inclusive [from, to] pair of YYYY-MM-DD values into a
// half-open instant range. Either side may be blank, yielding a zero bound.
func DateRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time
	if strings.TrimSpace(from) != "" {
		day, err := ParseDate(from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = day
	}
	if strings.TrimSpace(to) != "" {
		day, err := ParseDate(to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = day.AddDate(0, 0, 1)
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("clock: date_to %q precedes date_from %q", to, from)
	}
	return start, end, nil
}

// Format renders t in loc using DisplayLayout.
func Format(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

// FormatRange renders [start, end) for messages, eliding the date of end when
// both fall on the same local day.
func FormatRange(start, end time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	s, e := start.In(loc), end.In(loc)
	if s.Year() == e.Year() && s.YearDay() == e.YearDay() {
		return s.Format(DisplayLayout) + "-" + e.Format("15:04")
	}
	return s.Format(DisplayLayout) + " - " + e.Format(DisplayLayout)
}
