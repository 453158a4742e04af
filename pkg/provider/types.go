package provider

import (
	"fmt"

	"github.com/calder/inkwell/pkg/wire"
)

// Role values for conversation messages
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolResultBlock carries one resolved tool result back to the model
type ToolResultBlock struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

// Message is one entry of a conversation history. Assistant messages
// may carry the tool invocations the model declared; user messages may
// carry the results of those invocations.
type Message struct {
	Role        string                `json:"role"`
	Content     string                `json:"content"`
	Invocations []wire.ToolInvocation `json:"invocations,omitempty"`
	ToolResults []ToolResultBlock     `json:"tool_results,omitempty"`
}

// ToolSchema describes one capability advertised to the model
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request is one streaming completion request
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSchema
}

// HTTPError is returned for a non-2xx upstream response. It is fatal
// and never retried.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error: %d", e.StatusCode)
}
