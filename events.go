package svcpool

// EventKind identifies the kind of observable Event a Pool emits.
type EventKind int

const (
	// EventStateChanged reports a pool controller state transition.
	EventStateChanged EventKind = iota
	// EventConnectedToBackend reports that a slot successfully established
	// a connection to BackendKey and joined the ready set.
	EventConnectedToBackend
	// EventClosedConnection reports that a slot's connection to BackendKey
	// was torn down.
	EventClosedConnection
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventConnectedToBackend:
		return "connected-to-backend"
	case EventClosedConnection:
		return "closed-connection"
	default:
		return "unknown"
	}
}

// Event is one observable notification delivered on Pool.Events(). Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// State is set for EventStateChanged.
	State State
	// BackendKey is set for EventConnectedToBackend and
	// EventClosedConnection.
	BackendKey string
}
