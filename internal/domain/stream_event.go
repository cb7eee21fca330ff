package domain

type EventType string

const (
	EventStart  EventType = "start"
	EventNote   EventType = "note"
	EventEnrich EventType = "enrich"
	EventItem   EventType = "item"
	EventDone   EventType = "done"
	EventWarn   EventType = "warn"
)

// StreamEvent is one step of search progress as delivered to the client.
type StreamEvent struct {
	Type    EventType
	Payload any
}

// Terminal reports whether the event closes a search session.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventWarn
}
