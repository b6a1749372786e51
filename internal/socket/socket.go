// Package socket implements the socket-manager FSM: the lifecycle of one
// transport-level connection attempt, including exponential backoff and
// retry counting. A Manager knows nothing about backend health or pool-level
// concerns; it only drives one conn.Conn through connect/retry/close.
package socket

import (
	"context"
	"errors"
	"time"

	"svcpool/backoff"
	"svcpool/conn"
	"svcpool/internal/clock"
)

// ErrConnectTimeout is reported to OnError when an attempt does not emit
// conn.EventConnect within its scheduled timeout.
var ErrConnectTimeout = errors.New("socket: connect attempt timed out")

// ErrClosedBeforeConnect is reported to OnError when the connection object
// emits a close/end event before ever emitting connect.
var ErrClosedBeforeConnect = errors.New("socket: connection closed before connect")

// ErrNoAttemptsAllowed is reported to OnError when the configured schedule
// permits zero attempts (Retries: 0). The manager never calls NewConn in
// this case; it goes directly from StateStopped/StateError/StateClosed to
// StateError on the very first Connect.
var ErrNoAttemptsAllowed = errors.New("socket: schedule permits zero attempts")

// Config wires a Manager to its owning slot and to the single-goroutine
// actor loop of the pool that owns the slot.
type Config struct {
	Clock clock.Clock
	// Post submits a closure to the owning pool's command channel, so that
	// asynchronous conn events and timer firings are handled in the same
	// total order as every other pool operation.
	Post func(func())

	NewConn    conn.Constructor
	BackendKey string
	Schedule   backoff.Schedule

	// MaxChainedBackoff caps the delay computed from Schedule, on top of
	// whatever per-policy MaxDelay the schedule already applies. Zero means
	// no additional cap.
	MaxChainedBackoff time.Duration

	OnConnected func()
	OnError     func(err error)
	OnClosed    func()
}

// Manager drives a single conn.Conn through the socket-manager FSM. It is
// not safe for concurrent use: every method must be called from the actor
// loop that owns Config.Post.
type Manager struct {
	cfg Config

	state      State
	attempt    int
	generation uint64

	conn       conn.Conn
	connCancel context.CancelFunc
	timer      clock.Timer

	lastTimeout time.Duration
	lastDelay   time.Duration
}

// New creates a Manager in StateStopped. The manager performs no I/O until
// Connect is called.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, state: StateStopped}
}

// State reports the current FSM state.
func (m *Manager) State() State { return m.state }

// CurrentAttempt reports the number of connection attempts started so far
// (1-indexed; 0 before the first attempt).
func (m *Manager) CurrentAttempt() int { return m.attempt }

// Exhausted reports whether the most recently completed attempt used up the
// configured retry budget. The owning slot consults this after OnError
// fires to decide between Retry and giving up.
func (m *Manager) Exhausted() bool {
	return m.cfg.Schedule.Exhausted(m.attempt + 1)
}

// Overloaded reports whether the manager currently has a connection attempt
// in flight (busy), the property the slot and pool consult before issuing
// further signals.
func (m *Manager) Overloaded() bool { return m.state == StateConnecting }

// LastTimeout reports the per-attempt timeout used for the most recent
// attempt.
func (m *Manager) LastTimeout() time.Duration { return m.lastTimeout }

// LastDelay reports the delay that preceded the most recent attempt.
func (m *Manager) LastDelay() time.Duration { return m.lastDelay }

// Conn returns the current connection object. Only meaningful while
// State() == StateConnected; nil otherwise.
func (m *Manager) Conn() conn.Conn { return m.conn }

// Connect starts a fresh attempt sequence (counter reset to 1) from
// StateStopped, StateError, or StateClosed. The very first Connect of a
// Manager's life skips the delay state entirely, matching the "no delay the
// first time" rule; later fresh connects behave identically, since a
// deliberate reconnect is not a retry. If the schedule permits zero
// attempts, Connect goes straight to StateError without calling NewConn.
func (m *Manager) Connect() {
	m.assertState(StateStopped, StateError, StateClosed)
	m.teardownConn()
	m.attempt = 0
	m.beginDelay(0)
}

// Retry consumes one retry, advancing the attempt counter and re-entering
// StateDelay for the schedule's computed delay. The caller (the owning
// slot) must have already confirmed !Exhausted() before calling Retry.
func (m *Manager) Retry() {
	m.assertState(StateError, StateClosed)
	if m.Exhausted() {
		panic("socket: Retry called on an exhausted manager")
	}
	delay := m.cfg.Schedule.Delay(m.attempt)
	if m.cfg.MaxChainedBackoff > 0 && delay > m.cfg.MaxChainedBackoff {
		delay = m.cfg.MaxChainedBackoff
	}
	m.beginDelay(delay)
}

// Destroy tears down any in-flight attempt or established connection and
// moves the manager to StateStopped. Safe to call from any state; a second
// call is a no-op.
func (m *Manager) Destroy() {
	if m.state == StateStopped {
		return
	}
	m.generation++
	m.stopTimer()
	m.teardownConn()
	m.state = StateStopped
}

func (m *Manager) beginDelay(delay time.Duration) {
	m.generation++
	gen := m.generation
	if m.attempt == 0 && m.cfg.Schedule.Exhausted(1) {
		// Retries: 0 means the schedule forbids even a first attempt;
		// exhaustion is immediate and NewConn is never called.
		m.attempt = 1
		m.enterError(gen, ErrNoAttemptsAllowed)
		return
	}
	m.state = StateDelay
	m.lastDelay = delay
	if delay <= 0 {
		m.startConnecting(gen)
		return
	}
	m.timer = m.cfg.Clock.AfterFunc(delay, func() {
		m.cfg.Post(func() { m.onDelayElapsed(gen) })
	})
}

func (m *Manager) onDelayElapsed(gen uint64) {
	if gen != m.generation || m.state != StateDelay {
		return
	}
	m.startConnecting(gen)
}

func (m *Manager) startConnecting(gen uint64) {
	m.attempt++
	m.state = StateConnecting

	timeout := m.cfg.Schedule.Timeout(m.attempt)
	m.lastTimeout = timeout

	ctx, cancel := context.WithCancel(context.Background())
	m.connCancel = cancel

	c := m.cfg.NewConn(m.cfg.BackendKey)
	m.conn = c

	events := c.Events()
	go func() {
		for ev := range events {
			ev := ev
			m.cfg.Post(func() { m.onConnEvent(gen, ev) })
		}
	}()
	c.Connect(ctx)

	if timeout > 0 {
		m.timer = m.cfg.Clock.AfterFunc(timeout, func() {
			m.cfg.Post(func() { m.onAttemptTimeout(gen) })
		})
	}
}

func (m *Manager) onAttemptTimeout(gen uint64) {
	if gen != m.generation || m.state != StateConnecting {
		return
	}
	m.enterError(gen, ErrConnectTimeout)
}

func (m *Manager) onConnEvent(gen uint64, ev conn.Event) {
	if gen != m.generation {
		return
	}
	switch ev.Kind {
	case conn.EventConnect:
		if m.state != StateConnecting {
			return
		}
		m.stopTimer()
		m.state = StateConnected
		if m.cfg.OnConnected != nil {
			m.cfg.OnConnected()
		}
	case conn.EventError:
		if m.state == StateConnecting {
			m.enterError(gen, ev.Err)
		}
		// Errors observed once connected are not transition-worthy on their
		// own; only close/end ends a connected manager.
	case conn.EventClose, conn.EventEnd:
		switch m.state {
		case StateConnecting:
			m.enterError(gen, ErrClosedBeforeConnect)
		case StateConnected:
			m.stopTimer()
			m.teardownConn()
			m.state = StateClosed
			if m.cfg.OnClosed != nil {
				m.cfg.OnClosed()
			}
		}
	}
}

func (m *Manager) enterError(gen uint64, err error) {
	if gen != m.generation {
		return
	}
	m.stopTimer()
	m.teardownConn()
	m.state = StateError
	if m.cfg.OnError != nil {
		m.cfg.OnError(err)
	}
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) teardownConn() {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.conn != nil {
		m.conn.Destroy()
		m.conn = nil
	}
}

func (m *Manager) assertState(allowed ...State) {
	for _, s := range allowed {
		if m.state == s {
			return
		}
	}
	panic("socket: illegal signal in state " + m.state.String())
}
