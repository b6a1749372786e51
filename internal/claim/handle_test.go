package claim

import (
	"context"
	"testing"
	"time"

	"svcpool/backoff"
	"svcpool/conn"
	"svcpool/internal/clocktest"
	"svcpool/internal/slot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ events chan conn.Event }

func newFakeConn(string) *fakeConn { return &fakeConn{events: make(chan conn.Event, 4)} }
func (c *fakeConn) Connect(context.Context) {}
func (c *fakeConn) Events() <-chan conn.Event { return c.events }
func (c *fakeConn) Destroy() {
	select {
	case <-c.events:
	default:
		close(c.events)
	}
}

func drainPost(fn func()) { fn() }

func newIdleSlot(t *testing.T) (*slot.Slot, *fakeConn) {
	t.Helper()
	clk := clocktest.New()
	var produced *fakeConn
	s := slot.New(slot.Config{
		Clock: clk,
		Post:  drainPost,
		NewConn: func(key string) conn.Conn {
			produced = newFakeConn(key)
			return produced
		},
		BackendKey: "A",
		Schedule:   backoff.Descriptor{"default": {Retries: 2, Timeout: time.Second, Delay: time.Millisecond}}.NewSchedule("default"),
	})
	s.Start()
	produced.events <- conn.Event{Kind: conn.EventConnect}
	require.Eventually(t, func() bool { return s.State() == slot.StateIdle }, time.Second, time.Millisecond)
	return s, produced
}

func TestHandleTryAcceptsIdleSlot(t *testing.T) {
	t.Parallel()
	s, _ := newIdleSlot(t)
	h := New(1, time.Now(), time.Time{})

	ok := h.Try(s)
	assert.True(t, ok)
	assert.Equal(t, StateClaimed, h.State())
	assert.NotNil(t, h.Conn())
}

func TestHandleTryRejectsNonIdleSlot(t *testing.T) {
	t.Parallel()
	s, _ := newIdleSlot(t)
	s.SetUnwanted() // idle -> closes immediately

	h := New(1, time.Now(), time.Time{})
	ok := h.Try(s)
	assert.False(t, ok)
	assert.Equal(t, StateWaiting, h.State())
}

func TestHandleReleaseHealthyReturnsToIdle(t *testing.T) {
	t.Parallel()
	s, _ := newIdleSlot(t)
	h := New(1, time.Now(), time.Time{})
	require.True(t, h.Try(s))

	require.NoError(t, h.Release(true))
	assert.Equal(t, StateReleased, h.State())
	assert.Equal(t, slot.StateIdle, s.State())
}

func TestHandleReleaseUnhealthyFailsAndClosesSlot(t *testing.T) {
	t.Parallel()
	s, _ := newIdleSlot(t)
	h := New(1, time.Now(), time.Time{})
	require.True(t, h.Try(s))

	require.NoError(t, h.Release(false))
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, slot.StateStopped, s.State())
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	s, _ := newIdleSlot(t)
	h := New(1, time.Now(), time.Time{})
	require.True(t, h.Try(s))

	require.NoError(t, h.Release(true))
	assert.ErrorIs(t, h.Release(true), ErrAlreadyResolved)
	assert.Equal(t, StateReleased, h.State())
}

func TestHandleCancelWhileWaiting(t *testing.T) {
	t.Parallel()
	h := New(1, time.Now(), time.Time{})
	h.Cancel(assert.AnError)
	assert.Equal(t, StateCancelled, h.State())
	assert.Equal(t, assert.AnError, h.Err())

	// idempotent
	h.Cancel(nil)
	assert.Equal(t, StateCancelled, h.State())
	assert.Equal(t, assert.AnError, h.Err())
}

func TestHandleCancelAfterClaimReleasesSlotHealthy(t *testing.T) {
	t.Parallel()
	s, _ := newIdleSlot(t)
	h := New(1, time.Now(), time.Time{})
	require.True(t, h.Try(s))

	h.Cancel(nil)
	assert.Equal(t, StateCancelled, h.State())
	assert.Equal(t, slot.StateIdle, s.State())
}

func TestHandleFailWhileWaiting(t *testing.T) {
	t.Parallel()
	h := New(1, time.Now(), time.Time{})
	h.Fail(assert.AnError)
	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, assert.AnError, h.Err())
}

func TestQueueFIFOOrder(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	h1 := New(1, time.Now(), time.Time{})
	h2 := New(2, time.Now().Add(time.Millisecond), time.Time{})
	q.Push(h1)
	q.Push(h2)

	assert.Equal(t, h1, q.Front())
	assert.Equal(t, h1, q.PopFront())
	assert.Equal(t, h2, q.PopFront())
	assert.Nil(t, q.PopFront())
}

func TestQueueRemove(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	h1 := New(1, time.Now(), time.Time{})
	h2 := New(2, time.Now(), time.Time{})
	q.Push(h1)
	q.Push(h2)

	q.Remove(h1.ID())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, h2, q.Front())
}
