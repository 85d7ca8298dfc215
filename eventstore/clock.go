package eventstore

import (
	"sync/atomic"
	"time"
)

// Clock is the time source used to stamp newly constructed event messages.
type Clock interface {
	Now() time.Time
}

// clockBox gives atomic.Value a single concrete type to store, whatever the
// underlying clock implementation is.
type clockBox struct {
	c Clock
}

var processClock atomic.Value

func init() {
	processClock.Store(clockBox{c: systemClock{}})
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

// FixedClock returns a clock frozen at the given instant. Intended for tests.
func FixedClock(t time.Time) Clock {
	return fixedClock{t: t}
}

// SetClock replaces the process-wide clock. Timestamps are assigned at event
// construction time, so this only affects messages created afterwards.
func SetClock(c Clock) {
	processClock.Store(clockBox{c: c})
}

// ResetClock restores the system clock.
func ResetClock() {
	processClock.Store(clockBox{c: systemClock{}})
}

func clockNow() time.Time {
	return processClock.Load().(clockBox).c.Now()
}
