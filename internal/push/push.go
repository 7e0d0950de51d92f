// Package push fans bot activity out to connected dashboards. Delivery is
// fire-and-forget: a dashboard that is disconnected or slow simply misses
// events and re-fetches state on reconnect.
package push

// EventType distinguishes the two streams the dashboard renders.
type EventType string

const (
	EventLog       EventType = "log"
	EventFollowers EventType = "followers"
)

// Event is one update for one account's dashboard.
type Event struct {
	AccountID string    `json:"account_id"`
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Followers int64     `json:"followers,omitempty"`
}

// Sink receives events emitted by the watch loop. Implementations must not
// block: Publish is called from the hot path of every check.
type Sink interface {
	Publish(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}
