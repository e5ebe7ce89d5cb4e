package native

import "fmt"

// Session limits on emitted events.
const (
	// MaxEventData bounds one serialized event payload.
	MaxEventData = 256 * 1024

	// DefaultMaxEvents bounds the number of events per session.
	DefaultMaxEvents = 256
)

// Abort codes raised by event::emit.
const (
	AbortTooManyEvents = uint64(1)
	AbortEventTooLarge = uint64(2)
)

// extEventStore names the event store entry in the extension bag.
const extEventStore = "event_store"

// Extensions is a session-scoped bag of host state reachable from natives.
// The event store lives here; embedders may hang their own entries off it
// under names of their choosing.
type Extensions struct {
	entries map[string]any
}

// NewExtensions returns an empty bag.
func NewExtensions() *Extensions {
	return &Extensions{entries: make(map[string]any)}
}

// Set stores an extension under a name, replacing any previous entry.
func (e *Extensions) Set(name string, ext any) {
	e.entries[name] = ext
}

// Get returns the extension stored under a name.
func (e *Extensions) Get(name string) (any, bool) {
	ext, ok := e.entries[name]
	return ext, ok
}

// SetEventStore installs the session's event store.
func (e *Extensions) SetEventStore(s *EventStore) {
	e.Set(extEventStore, s)
}

// EventStore returns the installed event store, if any.
func (e *Extensions) EventStore() (*EventStore, bool) {
	ext, ok := e.Get(extEventStore)
	if !ok {
		return nil, false
	}
	s, ok := ext.(*EventStore)
	return s, ok
}

// Event is one emitted event: the type tag of the payload plus its
// serialized bytes.
type Event struct {
	Type string
	Data []byte
}

// EventStore collects the events emitted during one session, in order.
type EventStore struct {
	events []Event
	limit  int
}

// NewEventStore returns a store capped at limit events. A non-positive
// limit means DefaultMaxEvents.
func NewEventStore(limit int) *EventStore {
	if limit <= 0 {
		limit = DefaultMaxEvents
	}
	return &EventStore{limit: limit}
}

// Append records one event.
func (s *EventStore) Append(ev Event) error {
	if len(s.events) >= s.limit {
		return fmt.Errorf("event limit %d reached", s.limit)
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns the recorded events in emission order.
func (s *EventStore) Events() []Event {
	return s.events
}

// Len returns the number of recorded events.
func (s *EventStore) Len() int {
	return len(s.events)
}
