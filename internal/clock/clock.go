// Package clock provides a seam between the pool's timing-sensitive state
// machines and the wall clock, so tests can drive them with a deterministic
// fake instead of real sleeps.
package clock

import "time"

// Clock is an interface compatible with the jonboulle/clockwork package. The
// intent is that clockwork only be a dependency of tests, never of the
// production code paths in this module.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer covers the behavior of a [time.Timer] that this module relies on.
type Timer interface {
	Chan() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

// Ticker covers the behavior of a [time.Ticker] that this module relies on.
type Ticker interface {
	Chan() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// New returns a Clock backed by the real wall clock and [time] package.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time                    { return time.Now() }
func (realClock) Since(t time.Time) time.Duration   { return time.Since(t) }
func (realClock) NewTimer(d time.Duration) Timer    { return realTimer{time.NewTimer(d)} }
func (realClock) NewTicker(d time.Duration) Ticker  { return realTicker{time.NewTicker(d)} }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ *time.Timer }

func (r realTimer) Chan() <-chan time.Time { return r.C }

type realTicker struct{ *time.Ticker }

func (r realTicker) Chan() <-chan time.Time { return r.C }
