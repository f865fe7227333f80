package observability

import "mintforge/events"

// EventCounter counts every authority event in the Forge metrics. It is wired
// into the emitter fan-out next to the audit recorder and the RPC stream.
type EventCounter struct{}

// Emit implements the events.Emitter interface.
func (EventCounter) Emit(event events.Event) {
	Forge().RecordEvent(event.EventType())
}
