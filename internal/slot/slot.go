// Package slot implements the slot FSM: a logical connection intent toward
// one backend, mediating between the pool and a socket.Manager. A Slot is
// not safe for concurrent use; every method must be called from the actor
// loop of the pool that owns it.
package slot

import (
	"time"

	"svcpool/backoff"
	"svcpool/conn"
	"svcpool/internal/clock"
	"svcpool/internal/socket"
)

// ReleaseFunc returns a claimed slot's connection. ok=true means the caller
// is done with a healthy connection (it rejoins the ready set unless
// unwanted); ok=false means the caller observed it as broken (the slot
// closes). A ReleaseFunc is bound to the claim generation it was issued
// under: calling it after the slot has moved on from that claim for any
// reason other than an already-in-flight async close is a contract
// violation and panics.
type ReleaseFunc func(ok bool)

// Config wires a Slot to its owning pool's actor loop and callbacks.
type Config struct {
	Clock clock.Clock
	Post  func(func())

	NewConn    conn.Constructor
	BackendKey string
	Mode       Mode
	// Schedule is the attempt schedule for StateStarting. Monitor slots
	// receive the caller's already-derived Schedule.Monitor(checkTimeout).
	Schedule          backoff.Schedule
	MaxChainedBackoff time.Duration

	// OnIdle fires whenever the slot joins the ready set (fresh connect or
	// a healthy release), so the pool can attempt to match the claim queue.
	OnIdle func(s *Slot)
	// OnExhausted fires once, when a normal slot's retry budget runs out,
	// before the slot begins closing. The pool uses this to mark the
	// backend dead and start the monitor protocol.
	OnExhausted func(s *Slot)
	// OnClosing fires when a slot that was idle or claimed begins closing,
	// so the pool can remove it from the ready set / claim accounting
	// before the teardown completes.
	OnClosing func(s *Slot)
	// OnStopped fires once the slot has fully torn down; the pool removes
	// it from its registry.
	OnStopped func(s *Slot)
	// OnMonitorRecovered fires when a monitor slot's connection attempt
	// succeeds, signaling that the backend it watches should be marked
	// healthy again.
	OnMonitorRecovered func(s *Slot)
}

// Slot is one pool slot: a single socket.Manager plus the bookkeeping the
// pool needs to include it in the ready set, the claim queue matching, and
// the rebalancer's accounting.
type Slot struct {
	cfg Config
	mgr *socket.Manager

	state    State
	unwanted bool

	claimGeneration uint64
}

// New constructs a Slot in StateInit. Start must be called to begin
// connecting.
func New(cfg Config) *Slot {
	s := &Slot{cfg: cfg, state: StateInit}
	s.mgr = socket.New(socket.Config{
		Clock:             cfg.Clock,
		Post:              cfg.Post,
		NewConn:           cfg.NewConn,
		BackendKey:        cfg.BackendKey,
		Schedule:          cfg.Schedule,
		MaxChainedBackoff: cfg.MaxChainedBackoff,
		OnConnected:       s.handleConnected,
		OnError:           s.handleError,
		OnClosed:          s.handleClosed,
	})
	return s
}

// BackendKey reports the backend this slot targets. Immutable for the
// slot's life.
func (s *Slot) BackendKey() string { return s.cfg.BackendKey }

// Mode reports whether this is a normal or dead-backend monitor slot.
func (s *Slot) Mode() Mode { return s.cfg.Mode }

// State reports the current FSM state.
func (s *Slot) State() State { return s.state }

// Unwanted reports whether this slot has been marked for retirement.
func (s *Slot) Unwanted() bool { return s.unwanted }

// Start begins the slot's first connection attempt.
func (s *Slot) Start() {
	if s.state != StateInit {
		panic("slot: Start called outside StateInit")
	}
	s.state = StateStarting
	s.mgr.Connect()
}

// SetUnwanted marks the slot for retirement at the next opportunity: a
// starting or idle slot closes immediately, while a claimed slot closes as
// soon as it is released.
func (s *Slot) SetUnwanted() {
	if s.unwanted {
		return
	}
	s.unwanted = true
	switch s.state {
	case StateStarting, StateIdle:
		s.transitionToClosing()
	}
}

// TryClaim attempts to bind the slot to a new claimant. It succeeds only if
// the slot is idle and not unwanted. On success it returns the slot's
// connection and a ReleaseFunc the claimant must eventually call exactly
// once.
func (s *Slot) TryClaim() (c conn.Conn, release ReleaseFunc, ok bool) {
	if s.state != StateIdle || s.unwanted {
		return nil, nil, false
	}
	s.claimGeneration++
	gen := s.claimGeneration
	s.state = StateClaimed
	c = s.mgr.Conn()
	return c, func(ok bool) { s.release(gen, ok) }, true
}

func (s *Slot) release(gen uint64, ok bool) {
	if gen != s.claimGeneration {
		panic("slot: release called with a stale claim token")
	}
	// The token is spent by this call; any later call with it is stale.
	s.claimGeneration++
	if s.state != StateClaimed {
		// The underlying connection died asynchronously while claimed and
		// the slot already started closing; tolerate the caller's release
		// arriving after the fact.
		return
	}
	if ok && !s.unwanted {
		s.state = StateIdle
		if s.cfg.OnIdle != nil {
			s.cfg.OnIdle(s)
		}
		return
	}
	s.transitionToClosing()
}

func (s *Slot) handleConnected() {
	switch s.state {
	case StateStarting:
		if s.unwanted {
			s.transitionToClosing()
			return
		}
		if s.cfg.Mode == ModeMonitor {
			s.state = StateMonitorIdle
			if s.cfg.OnMonitorRecovered != nil {
				s.cfg.OnMonitorRecovered(s)
			}
			s.transitionToClosing()
			return
		}
		s.state = StateIdle
		if s.cfg.OnIdle != nil {
			s.cfg.OnIdle(s)
		}
	}
}

func (s *Slot) handleError(error) {
	if s.state != StateStarting {
		return
	}
	if s.unwanted {
		s.transitionToClosing()
		return
	}
	if s.mgr.Exhausted() {
		if s.cfg.Mode == ModeMonitor {
			// Monitor slots are constructed with an unlimited-retry
			// schedule; reaching here would mean a misconfigured monitor.
			// Keep retrying rather than silently abandoning the watch.
			s.mgr.Retry()
			return
		}
		if s.cfg.OnExhausted != nil {
			s.cfg.OnExhausted(s)
		}
		s.transitionToClosing()
		return
	}
	s.mgr.Retry()
}

func (s *Slot) handleClosed() {
	switch s.state {
	case StateIdle, StateClaimed:
		s.transitionToClosing()
	case StateStarting:
		// A connected-phase close reaching the manager while the slot still
		// thinks it's starting shouldn't happen in practice, but treat it
		// as exhaustion rather than leaving the slot stuck.
		if s.cfg.OnExhausted != nil {
			s.cfg.OnExhausted(s)
		}
		s.transitionToClosing()
	}
}

// transitionToClosing tears the slot down. Manager.Destroy is synchronous,
// so StateClosing and StateStopped are both entered within this call; the
// two states are kept distinct for observability and because the external
// interface documents them as separate FSM states, not because there is an
// asynchronous gap between them in this implementation.
func (s *Slot) transitionToClosing() {
	if s.state == StateClosing || s.state == StateStopped {
		return
	}
	wasReadyOrClaimed := s.state == StateIdle || s.state == StateClaimed
	s.state = StateClosing
	if wasReadyOrClaimed && s.cfg.OnClosing != nil {
		s.cfg.OnClosing(s)
	}
	s.mgr.Destroy()
	s.state = StateStopped
	if s.cfg.OnStopped != nil {
		s.cfg.OnStopped(s)
	}
}
