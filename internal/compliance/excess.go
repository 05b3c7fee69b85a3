package compliance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Level grades a session duration against the excess-hours thresholds.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelAlert
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	default:
		return "none"
	}
}

// Thresholds are strict lower bounds: a duration must exceed them.
type Thresholds struct {
	Warning  time.Duration
	Alert    time.Duration
	Critical time.Duration
}

// DefaultThresholds returns 7h, 8h and 12h.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 7 * time.Hour, Alert: 8 * time.Hour, Critical: 12 * time.Hour}
}

// Classify returns the highest level whose threshold d exceeds.
func (t Thresholds) Classify(d time.Duration) Level {
	switch {
	case t.Critical > 0 && d > t.Critical:
		return LevelCritical
	case t.Alert > 0 && d > t.Alert:
		return LevelAlert
	case t.Warning > 0 && d > t.Warning:
		return LevelWarning
	default:
		return LevelNone
	}
}

// Threshold returns the bound associated with level.
func (t Thresholds) Threshold(level Level) time.Duration {
	switch level {
	case LevelWarning:
		return t.Warning
	case LevelAlert:
		return t.Alert
	case LevelCritical:
		return t.Critical
	default:
		return 0
	}
}

// Key labels a level by its threshold, e.g. "8h", for dedup keys.
func (t Thresholds) Key(level Level) string {
	d := t.Threshold(level)
	if d%time.Hour == 0 {
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	}
	return fmt.Sprintf("%dm", int64(d/time.Minute))
}

// SessionDuration is now - entry for an open session and exit - entry for a
// closed one.
func SessionDuration(entry time.Time, exit *time.Time, now time.Time) time.Duration {
	if exit != nil {
		return exit.Sub(entry)
	}
	return now.Sub(entry)
}

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Hours converts d to hours rounded to 0.01 h.
func Hours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(nanosPerHour).Round(2)
}
