package events

// Fanout delivers every event to each wrapped emitter in order. Nil entries
// are skipped so callers can wire optional sinks without guarding.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(event Event) {
	for _, emitter := range f {
		if emitter == nil {
			continue
		}
		emitter.Emit(event)
	}
}
