// Package compliance classifies shifts against observed room sessions and
// sessions against the excess-hours thresholds. Everything here is a pure
// function of its inputs.
package compliance

import (
	"time"

	"github.com/example/shift-compliance/internal/scheduler"
)

// Verdict is the compliance classification of one shift.
type Verdict string

const (
	VerdictPending       Verdict = "pending"
	VerdictGrace         Verdict = "grace"
	VerdictCompliant     Verdict = "compliant"
	VerdictLateCompliant Verdict = "late-compliant"
	VerdictNonCompliant  Verdict = "non-compliant"
)

// Verdicts lists every verdict in lifecycle order.
var Verdicts = []Verdict{VerdictPending, VerdictGrace, VerdictCompliant, VerdictLateCompliant, VerdictNonCompliant}

// Notifiable reports whether entering this verdict alerts administrators.
func (v Verdict) Notifiable() bool {
	return v == VerdictNonCompliant || v == VerdictLateCompliant
}

// Attendance is the part of a room session the classifier looks at.
type Attendance struct {
	SessionID string
	Entry     time.Time
	Exit      *time.Time
}

func (a Attendance) overlaps(window scheduler.Interval) bool {
	if !a.Entry.Before(window.End) {
		return false
	}
	return a.Exit == nil || a.Exit.After(window.Start)
}

// Evaluation is the verdict together with the session it was derived from.
type Evaluation struct {
	Verdict Verdict
	// Earliest is set when a session inside the join window was found.
	Earliest *Attendance
	// Lateness is Earliest.Entry - shift start; negative for early arrivals.
	Lateness time.Duration
	// SinceStart is now - shift start at evaluation time.
	SinceStart time.Duration
}

// JoinWindow is the interval in which sessions are matched against a shift.
func JoinWindow(shift scheduler.Interval, grace time.Duration) scheduler.Interval {
	return shift.Widen(grace, grace)
}

// Evaluate classifies a shift. sessions must belong to the shift's user and
// room; any session overlapping the join window counts, and the earliest by
// entry time decides.
func Evaluate(shift scheduler.Interval, sessions []Attendance, now time.Time, grace time.Duration) Evaluation {
	eval := Evaluation{SinceStart: now.Sub(shift.Start)}
	if now.Before(shift.Start) {
		eval.Verdict = VerdictPending
		return eval
	}

	window := JoinWindow(shift, grace)
	for i := range sessions {
		s := sessions[i]
		if !s.overlaps(window) {
			continue
		}
		if eval.Earliest == nil || s.Entry.Before(eval.Earliest.Entry) {
			eval.Earliest = &s
		}
	}

	if eval.Earliest == nil {
		if eval.SinceStart <= grace {
			eval.Verdict = VerdictGrace
		} else {
			eval.Verdict = VerdictNonCompliant
		}
		return eval
	}

	eval.Lateness = eval.Earliest.Entry.Sub(shift.Start)
	if eval.Lateness <= grace {
		eval.Verdict = VerdictCompliant
	} else {
		eval.Verdict = VerdictLateCompliant
	}
	return eval
}

// Tally counts verdicts.
type Tally map[Verdict]int

// Add records one verdict.
func (t Tally) Add(v Verdict) { t[v]++ }

// Total returns the number of recorded verdicts.
func (t Tally) Total() int {
	n := 0
	for _, c := range t {
		n += c
	}
	return n
}
