package wire

// InvocationStatus tracks a tool invocation through its lifecycle
type InvocationStatus string

const (
	StatusPending  InvocationStatus = "pending"
	StatusComplete InvocationStatus = "complete"
	StatusFailed   InvocationStatus = "failed"
)

// ToolInvocation is a model-requested call to a named capability
type ToolInvocation struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Input  map[string]interface{} `json:"input"`
	Result string                 `json:"result,omitempty"`
	Status InvocationStatus       `json:"status"`
}

// Result is the final output of one decoded response stream
type Result struct {
	Text        string           `json:"text"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
}

// ProtocolError is raised when the provider sends an explicit error event
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}
