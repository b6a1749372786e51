package svcpool

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers, matched with errors.Is.
var (
	// ErrClaimTimeout reports that a claim's queue sojourn exceeded the
	// caller-supplied timeout before a slot became available.
	ErrClaimTimeout = errors.New("svcpool: claim timed out waiting for a connection")
	// ErrClaimCancelled reports that the caller's context was cancelled
	// while the claim was still waiting.
	ErrClaimCancelled = errors.New("svcpool: claim cancelled")
	// ErrPoolFailed reports that every known backend was dead at the time
	// of the claim.
	ErrPoolFailed = errors.New("svcpool: pool has no healthy backends")
	// ErrPoolStopping reports that the claim arrived, or was still queued,
	// while the pool was stopping.
	ErrPoolStopping = errors.New("svcpool: pool is stopping")
	// ErrNoBackends reports that the resolver reached steady state with no
	// backends at all, distinct from ErrPoolFailed (which implies backends
	// existed and all died).
	ErrNoBackends = errors.New("svcpool: resolver reported no backends")
	// ErrOverloaded reports that the overload controller shed this claim.
	ErrOverloaded = errors.New("svcpool: claim shed under overload")
	// ErrInvalidConfig wraps every construction-time configuration error
	// returned by NewPool.
	ErrInvalidConfig = errors.New("svcpool: invalid configuration")
)

// assertf panics with a formatted message. It marks user contract
// violations (double release, release of an already-resolved handle
// reaching here instead of being absorbed earlier, etc.) that the core
// treats as fatal programming errors rather than recoverable conditions.
func assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic(fmt.Sprintf(format, args...))
}
