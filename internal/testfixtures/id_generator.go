package testfixtures

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces deterministic identifiers for tests. Pass NextFunc to
// service constructors.
type IDGenerator struct {
	mu      sync.Mutex
	counter uint64
	format  func(n uint64) string
}

// NewIDGenerator yields "<prefix>-1", "<prefix>-2", ... An empty prefix means "id".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{format: func(n uint64) string { return fmt.Sprintf("%s-%d", prefix, n) }}
}

// NewUUIDGenerator yields name-based UUIDs derived from seed and the counter,
// so ids have the production shape but repeat across runs.
func NewUUIDGenerator(seed string) *IDGenerator {
	return &IDGenerator{format: func(n uint64) string {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed+"/"+strconv.FormatUint(n, 10))).String()
	}}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return g.format(g.counter)
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Reset rewinds the sequence so the next id is the first one again.
func (g *IDGenerator) Reset() {
	g.mu.Lock()
	g.counter = 0
	g.mu.Unlock()
}
