package schemas

import "time"

// -- Lifecycle Event Schemas --

// EventType labels one kind of session lifecycle event.
type EventType string

const (
	EventSessionStarted EventType = "session.started"
	EventSessionClosed  EventType = "session.closed"
	EventSessionCrashed EventType = "session.crashed"
	EventActionDone     EventType = "action.done"
)

// Event is the envelope broadcast to lifecycle subscribers (the event feed
// and the journal). Action fields are populated only for action.done.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	Timestamp time.Time    `json:"timestamp"`
	Browser   BrowserKind  `json:"browser,omitempty"`
	Action    ActionName   `json:"action,omitempty"`
	Status    ActionStatus `json:"status,omitempty"`
	Error     string       `json:"error,omitempty"`
}
