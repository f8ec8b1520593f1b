// Package clock supplies the current time to credential code so expiry checks can be
// driven from tests.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type system struct{}

func (system) Now() time.Time {
	return time.Now()
}

// System returns wall clock
func System() Clock {
	return system{}
}

// Func adapts a plain function to Clock
type Func func() time.Time

func (f Func) Now() time.Time {
	return f()
}

// Mock is a settable clock. Zero value starts at unix epoch.
type Mock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewMock(now time.Time) *Mock {
	return &Mock{now: now}
}

func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.now.IsZero() {
		return time.Unix(0, 0)
	}
	return m.now
}

func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	if m.now.IsZero() {
		m.now = time.Unix(0, 0)
	}
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
