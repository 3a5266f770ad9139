// Package clock abstracts time so components with TTL behavior can be
// tested deterministically.
package clock

import "time"

// Timer is a cancelable deferred callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the
	// timer was stopped before firing.
	Stop() bool
}

// Clock provides the current time and deferred callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall-clock implementation backed by the time package.
type Real struct{}

// NewReal creates a wall-clock Clock.
func NewReal() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) Stop() bool {
	return rt.t.Stop()
}
