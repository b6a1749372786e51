package svcpool

import (
	"time"

	"svcpool/resolver"
)

// backendHealth is a backend entry's health as tracked by the pool
// controller, distinct from slot.State: a backend is dead once its last
// normal slot exhausted its retry budget, and stays dead until a monitor
// slot reconnects.
type backendHealth int

const (
	backendHealthy backendHealth = iota
	backendDead
)

// backendEntry is one row of the pool's backend table.
type backendEntry struct {
	backend resolver.Backend
	health  backendHealth

	// deadSince records when this backend was marked dead, for
	// diagnostics; the monitor protocol itself is driven by the monitor
	// slot's own schedule, not by this timestamp.
	deadSince time.Time

	// removed is set once the resolver retracts this backend. The entry is
	// kept around (so in-flight slots can still find it) until no slot or
	// monitor references its key any longer.
	removed bool
}
