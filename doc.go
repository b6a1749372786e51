// Package svcpool implements a client-side connection pool for a logical
// network service: a named entity resolving to a changing set of backends,
// each identified by (address, port). The pool hands out connections on
// demand, absorbs backend failure and recovery, and smooths bursts in
// demand via a low-pass filtered target and an optional CoDel overload
// controller.
//
// The pool's internal state machines (socket manager, slot, claim handle)
// and the rebalancer all run on a single per-pool actor loop: every
// externally triggered operation is submitted as a closure to the pool's
// command channel and executed strictly in receive order, giving the same
// total-ordering guarantee a single-threaded event loop would, without
// requiring any locking inside the FSM packages themselves.
package svcpool

