// Package provider implements the upstream model client: one streaming
// HTTP POST per turn, decoded by pkg/wire.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/calder/inkwell/pkg/wire"
)

const (
	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"
)

// Config holds client configuration
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// Client issues streaming completion requests
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewClient creates a new provider client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: httpClient,
	}, nil
}

// contentBlock is one element of a structured message body
type contentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type requestBody struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []ToolSchema  `json:"tools,omitempty"`
	Stream    bool          `json:"stream"`
}

// Stream issues one streaming request carrying the full history and
// decodes the response, forwarding text deltas to onText as they
// arrive. Cancellation is honored at each chunked read via ctx.
func (c *Client) Stream(ctx context.Context, req Request, onText wire.TextFunc) (*wire.Result, error) {
	body := requestBody{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    req.System,
		Messages:  encodeMessages(req.Messages),
		Tools:     req.Tools,
		Stream:    true,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	return wire.NewDecoder(resp.Body, onText).Decode()
}

// encodeMessages lowers history messages to the wire's content-block
// form. Plain messages stay as bare strings.
func encodeMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))

	for _, msg := range messages {
		switch {
		case msg.Role == RoleAssistant && len(msg.Invocations) > 0:
			blocks := []contentBlock{}
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, inv := range msg.Invocations {
				input := inv.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    inv.ID,
					Name:  inv.Name,
					Input: input,
				})
			}
			out = append(out, wireMessage{Role: RoleAssistant, Content: blocks})

		case msg.Role == RoleUser && len(msg.ToolResults) > 0:
			blocks := make([]contentBlock, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, contentBlock{
					Type:      "tool_result",
					ToolUseID: tr.ID,
					Content:   tr.Result,
				})
			}
			out = append(out, wireMessage{Role: RoleUser, Content: blocks})

		default:
			out = append(out, wireMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	return out
}
