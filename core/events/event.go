package events

// Event represents a structured lifecycle notification emitted by a sale
// instance.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the websocket
// stream, indexers). No core logic depends on delivery.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for components that optionally expose notifications.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
