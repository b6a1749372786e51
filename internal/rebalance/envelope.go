package rebalance

import (
	"math"
	"time"

	"svcpool/internal/clock"
)

// Envelope tracks a decaying peak of recent demand samples (claimed slots
// plus queue length), used as the low-pass filter on the rebalancer's
// effective target: shrink decisions lag behind a demand spike by roughly
// Tau, which damps churn when demand oscillates. It is driven by wall time
// (via the injected clock), resolving the open question left by the
// distilled core spec in favor of a wall-time-driven filter over a
// claim-count-driven one; DESIGN.md records the reasoning.
type Envelope struct {
	clk   clock.Clock
	tau   time.Duration
	value float64
	last  time.Time
}

// NewEnvelope creates an Envelope with the given decay time constant. A
// non-positive tau disables decay entirely (the envelope only ever holds
// its highest-ever sample).
func NewEnvelope(clk clock.Clock, tau time.Duration) *Envelope {
	return &Envelope{clk: clk, tau: tau, last: clk.Now()}
}

// Observe records a new demand sample, decaying the existing envelope value
// by elapsed time since the last observation before taking the max with the
// new sample.
func (e *Envelope) Observe(demand int) {
	now := e.clk.Now()
	if e.tau > 0 {
		elapsed := now.Sub(e.last)
		if elapsed > 0 {
			e.value *= math.Exp(-elapsed.Seconds() / e.tau.Seconds())
		}
	}
	if f := float64(demand); f > e.value {
		e.value = f
	}
	e.last = now
}

// Value reports the current envelope value, rounded up to the nearest
// whole slot count.
func (e *Envelope) Value() int {
	return int(math.Ceil(e.value))
}
