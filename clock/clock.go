// Package clock supplies the monotonic uptime used to schedule messages.
//
// Uptime is measured from process start with the runtime's monotonic clock
// reading, so wall-clock adjustments never move it backwards.
package clock

import (
	"sync"
	"time"
)

// Clock returns milliseconds of uptime. Successive calls never decrease.
type Clock interface {
	UptimeMillis() int64
}

type systemClock struct {
	start time.Time
}

func (c *systemClock) UptimeMillis() int64 {
	return time.Since(c.start).Milliseconds()
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now int64
}

func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) UptimeMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d milliseconds; negative values are ignored.
func (m *Manual) Advance(d int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now += d
	}
	return m.now
}

// Set moves the clock to t unless that would go backwards.
func (m *Manual) Set(t int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.now = t
	}
}
