// Package clock provides an injectable source of the current time.
//
// Every state transition and timing computation in the engine reads "now"
// from a Clock so tests can pin and advance time deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// Real reads the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// Mock is a settable clock for tests. It is safe for concurrent use.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a Mock pinned at t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

// Now returns the pinned instant.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins the clock at t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant.
func (m *Mock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
