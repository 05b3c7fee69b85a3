package testfixtures

import (
	"sync"
	"time"

	"github.com/example/shift-compliance/internal/clock"
)

// Clock provides a controllable time source for tests. It satisfies clock.Clock.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	loc     *time.Location
}

// NewClock returns a clock initialised to the supplied time in the Bogota
// zone. When start is the zero value, the shared ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start, loc: Zone()}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Location returns the presentation zone.
func (c *Clock) Location() *time.Location {
	if c == nil || c.loc == nil {
		return Zone()
	}
	return c.loc
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set updates the clock to the provided time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// SetLocal moves the clock to a "2006-01-02 15:04" value in the Bogota zone.
func (c *Clock) SetLocal(value string) time.Time {
	t := Local(value)
	c.Set(t)
	return t
}

// Advance moves the clock forward by the provided duration and returns the
// updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}

var _ clock.Clock = (*Clock)(nil)
