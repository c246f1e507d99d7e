package ingestion

import "time"

// EventKind identifies a transport lifecycle or message event.
type EventKind int

const (
	// EventConnected is emitted after a successful handshake, before the
	// transport subscribes, so every message event follows it.
	EventConnected EventKind = iota

	// EventDisconnected is emitted on any disconnect or failed connect.
	EventDisconnected

	// EventMessage carries one inbound payload.
	EventMessage
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is what the transport hands to the pipeline, in arrival order.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte

	// Err is the cause of a disconnect, if known.
	Err error

	// At is when the transport observed the event.
	At time.Time
}

// Connected returns an EventConnected.
func Connected() Event {
	return Event{Kind: EventConnected, At: time.Now()}
}

// Disconnected returns an EventDisconnected with its cause.
func Disconnected(err error) Event {
	return Event{Kind: EventDisconnected, Err: err, At: time.Now()}
}

// Message returns an EventMessage for the given topic and payload.
func Message(topic string, payload []byte) Event {
	return Event{Kind: EventMessage, Topic: topic, Payload: payload, At: time.Now()}
}
