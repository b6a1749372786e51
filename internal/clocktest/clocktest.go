// Package clocktest adapts [clockwork.FakeClock] to this module's internal
// clock.Clock interface, so tests can advance virtual time deterministically.
//
// Compatibility between Go interfaces is shallow: methods that return other
// interfaces (Timer, Ticker) are compared by exact nominal type, so clockwork's
// concrete timer/ticker types must be re-boxed into clock.Timer/clock.Ticker
// here rather than relying on structural compatibility.
package clocktest

import (
	"context"
	"time"

	"svcpool/internal/clock"

	"github.com/jonboulle/clockwork"
)

// FakeClock is a manually-advanceable clock usable anywhere clock.Clock is
// expected.
type FakeClock interface {
	clock.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, waiters int) error
}

// New creates a new FakeClock backed by clockwork.
func New() FakeClock {
	return fakeClock{clockwork.NewFakeClock()}
}

type fakeClock struct {
	clockwork.FakeClock
}

var _ FakeClock = fakeClock{}

func (f fakeClock) NewTimer(d time.Duration) clock.Timer {
	return fakeTimer{f.FakeClock.NewTimer(d)}
}

func (f fakeClock) NewTicker(d time.Duration) clock.Ticker {
	return fakeTicker{f.FakeClock.NewTicker(d)}
}

func (f fakeClock) AfterFunc(d time.Duration, fn func()) clock.Timer {
	return fakeTimer{f.FakeClock.AfterFunc(d, fn)}
}

func (f fakeClock) BlockUntilContext(ctx context.Context, waiters int) error {
	return f.FakeClock.(interface {
		BlockUntilContext(context.Context, int) error
	}).BlockUntilContext(ctx, waiters)
}

type fakeTimer struct {
	clockwork.Timer
}

func (t fakeTimer) Chan() <-chan time.Time { return t.Timer.Chan() }

type fakeTicker struct {
	clockwork.Ticker
}

func (t fakeTicker) Chan() <-chan time.Time { return t.Ticker.Chan() }
