package rebalance

import (
	"time"

	"svcpool/internal/clock"
)

// Snapshot is how the driver asks its owner for the current reconciliation
// input, minus Target and Maximum (which the driver fills in from its own
// configuration and the demand envelope).
type Snapshot struct {
	HealthyBackends            []string
	DeadBackendsNeedingMonitor []string
	Slots                      []SlotSnapshot
}

// DriverConfig wires a Driver to its owning pool's actor loop and state.
type DriverConfig struct {
	Clock clock.Clock
	// Post submits a closure to the owning pool's command channel; debounce
	// timer firings are dispatched through it so a replan runs on the
	// actor loop like every other pool operation.
	Post func(func())

	SelectionKey     string
	ConfiguredTarget int
	Maximum          int

	// Debounce coalesces a burst of triggers into a single replan.
	Debounce time.Duration
	// EnvelopeTau is the low-pass filter's decay time constant.
	EnvelopeTau time.Duration

	BuildSnapshot func() Snapshot
	Apply         func(actions []Action)
}

// Driver debounces replan triggers, maintains the demand envelope, and
// invokes Plan with the effective target once per settled burst.
type Driver struct {
	cfg      DriverConfig
	envelope *Envelope

	pending bool
	timer   clock.Timer
}

// NewDriver creates a Driver. It performs no replanning until Trigger or
// ReplanNow is called.
func NewDriver(cfg DriverConfig) *Driver {
	return &Driver{cfg: cfg, envelope: NewEnvelope(cfg.Clock, cfg.EnvelopeTau)}
}

// Trigger samples demand immediately (feeding the envelope even if the
// actual replan is debounced) and, unless a replan is already pending,
// schedules one for Debounce after this trigger. Triggers that arrive while
// a replan is pending join it without pushing it back.
func (d *Driver) Trigger(demand int) {
	d.envelope.Observe(demand)
	if d.pending {
		return
	}
	d.pending = true
	if d.cfg.Debounce <= 0 {
		d.pending = false
		d.replan()
		return
	}
	d.timer = d.cfg.Clock.AfterFunc(d.cfg.Debounce, func() {
		d.cfg.Post(func() {
			d.pending = false
			d.replan()
		})
	})
}

// ReplanNow runs a replan immediately, bypassing the debounce timer. Used
// for events that must be reconciled right away (pool start, a backend
// dying) rather than coalesced with unrelated churn.
func (d *Driver) ReplanNow(demand int) {
	d.envelope.Observe(demand)
	d.replan()
}

func (d *Driver) replan() {
	snap := d.cfg.BuildSnapshot()
	target := d.cfg.ConfiguredTarget
	if env := d.envelope.Value(); env > target {
		target = env
	}
	actions := Plan(Input{
		SelectionKey:               d.cfg.SelectionKey,
		HealthyBackends:            snap.HealthyBackends,
		DeadBackendsNeedingMonitor: snap.DeadBackendsNeedingMonitor,
		Slots:                      snap.Slots,
		Target:                     target,
		Maximum:                    d.cfg.Maximum,
	})
	d.cfg.Apply(actions)
}
