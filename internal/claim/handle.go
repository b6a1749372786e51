// Package claim implements the claim-handle FSM: the two-phase handshake a
// caller's pending claim() performs against a candidate slot. A Handle is
// manipulated only by the pool's actor loop; the pool's public API wraps it
// with the concurrency-safe surface callers actually use.
package claim

import (
	"errors"
	"time"

	"svcpool/conn"
	"svcpool/internal/slot"
)

// ErrAlreadyResolved is returned by Release when called on a handle that is
// already in a terminal state; callers normally never see this because the
// pool's public wrapper makes Release idempotent by returning the stored
// outcome instead of calling Release twice.
var ErrAlreadyResolved = errors.New("claim: handle already resolved")

// errReleasedUnhealthy marks a handle that released its connection with
// ok=false, reporting it as broken rather than returned.
var errReleasedUnhealthy = errors.New("claim: connection released as unhealthy")

// Handle is one outstanding claim() request.
type Handle struct {
	id          uint64
	enqueuedAt  time.Time
	hasDeadline bool
	deadline    time.Time

	state State
	err   error

	slot        *slot.Slot
	conn        conn.Conn
	slotRelease slot.ReleaseFunc
}

// New creates a Handle in StateWaiting. A zero deadline means no timeout.
func New(id uint64, enqueuedAt time.Time, deadline time.Time) *Handle {
	h := &Handle{id: id, enqueuedAt: enqueuedAt, state: StateWaiting}
	if !deadline.IsZero() {
		h.hasDeadline = true
		h.deadline = deadline
	}
	return h
}

// ID is this handle's queue identity, used for cancellation lookups.
func (h *Handle) ID() uint64 { return h.id }

// EnqueuedAt is the time this handle joined the queue, used for FIFO
// ordering and sojourn-time computation.
func (h *Handle) EnqueuedAt() time.Time { return h.enqueuedAt }

// Deadline reports the handle's timeout, if any.
func (h *Handle) Deadline() (time.Time, bool) { return h.deadline, h.hasDeadline }

// State reports the current FSM state.
func (h *Handle) State() State { return h.state }

// Err reports the terminal error, valid once State().Terminal() and the
// terminal state is StateFailed or StateCancelled.
func (h *Handle) Err() error { return h.err }

// Conn reports the bound connection, valid once State() == StateClaimed.
func (h *Handle) Conn() conn.Conn { return h.conn }

// Try offers candidate to this handle. It must only be called while the
// handle is StateWaiting. Returns true if the candidate accepted the claim
// (the handle is now StateClaimed); false if the candidate rejected it (the
// handle returns to StateWaiting so the pool can try the next candidate).
func (h *Handle) Try(candidate *slot.Slot) bool {
	if h.state != StateWaiting {
		panic("claim: Try called outside StateWaiting")
	}
	h.state = StateAttempting
	c, release, ok := candidate.TryClaim()
	if !ok {
		h.state = StateWaiting
		return false
	}
	h.state = StateClaimed
	h.slot = candidate
	h.conn = c
	h.slotRelease = release
	return true
}

// Release returns a claimed handle's connection to its slot. It is
// idempotent: a second call returns ErrAlreadyResolved without touching the
// slot again.
func (h *Handle) Release(ok bool) error {
	if h.state != StateClaimed {
		return ErrAlreadyResolved
	}
	h.slotRelease(ok)
	h.slotRelease = nil
	if ok {
		h.state = StateReleased
	} else {
		h.state = StateFailed
		h.err = errReleasedUnhealthy
	}
	return nil
}

// Cancel terminates a handle before or after it claimed a slot. If the
// handle had already claimed a connection, Cancel releases it as healthy
// (ok=true) on the caller's behalf, since the slot and connection are fine;
// only the caller's interest in them has lapsed. Idempotent: a second call
// is a no-op.
func (h *Handle) Cancel(err error) {
	if h.state.Terminal() {
		return
	}
	if h.state == StateClaimed {
		if h.slotRelease != nil {
			h.slotRelease(true)
			h.slotRelease = nil
		}
		h.state = StateCancelled
		h.err = err
		return
	}
	h.state = StateCancelled
	h.err = err
}

// Fail resolves a waiting handle to a terminal error without it ever
// claiming a slot (timeout, pool failure, overload shed). It must only be
// called while the handle is StateWaiting.
func (h *Handle) Fail(err error) {
	if h.state != StateWaiting {
		panic("claim: Fail called outside StateWaiting")
	}
	h.state = StateFailed
	h.err = err
}
