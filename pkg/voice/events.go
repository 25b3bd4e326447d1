package voice

import "time"

// State is the session lifecycle state owned by the [Controller].
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRecording
	StateDisconnecting
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateRecording:
		return "RECORDING"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// EventKind classifies entries in the controller's event log.
type EventKind int

const (
	// EventStatus is a lifecycle or informational entry.
	EventStatus EventKind = iota

	// EventMessage is a text frame received from the service, JSON or
	// plain, surfaced verbatim.
	EventMessage

	// EventError records a capture, transport, or decode failure.
	EventError
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "STATUS"
	case EventMessage:
		return "MESSAGE"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry in the controller's append-only event log.
type Event struct {
	Time    time.Time
	Kind    EventKind
	Message string
}
