package agent

import "github.com/calder/inkwell/pkg/wire"

// EventType tags entries of the loop's event stream
type EventType string

const (
	EventTextDelta  EventType = "text_delta"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one entry of the loop's event stream. Exactly one terminal
// event (done or error) ends every run, except when the run's context
// is cancelled.
type Event struct {
	Type EventType `json:"type"`

	// text_delta
	Text string `json:"text,omitempty"`

	// tool_use
	Tool *wire.ToolInvocation `json:"tool,omitempty"`

	// tool_result
	ID     string `json:"id,omitempty"`
	Result string `json:"result,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}
