// Package wire decodes the provider's event-stream framing into typed
// events: text deltas forwarded live, tool invocations resolved at
// block boundaries.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/calder/inkwell/internal/observability"
	"github.com/rs/zerolog/log"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// TextFunc receives each text fragment as it arrives
type TextFunc func(text string)

// Decoder parses one streaming response body. A decoder serves exactly
// one network call and holds no cross-call state; Decode may be called
// once.
type Decoder struct {
	r      io.Reader
	onText TextFunc
	used   bool
}

// NewDecoder creates a decoder over a response body. onText may be nil.
func NewDecoder(r io.Reader, onText TextFunc) *Decoder {
	return &Decoder{r: r, onText: onText}
}

// streamEvent is the discriminated wire record
type streamEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// openTool buffers the JSON input fragments of the open tool block
type openTool struct {
	id      string
	name    string
	scratch strings.Builder
}

// Decode consumes the stream to completion, forwarding text deltas as
// they arrive and returning the accumulated text plus resolved tool
// invocations in declaration order. Malformed records fail soft;
// explicit error events terminate decoding.
func (d *Decoder) Decode() (*Result, error) {
	if d.used {
		return nil, fmt.Errorf("decoder already consumed")
	}
	d.used = true

	scanner := bufio.NewScanner(d.r)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)

	var text strings.Builder
	var invocations []ToolInvocation
	var tool *openTool

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" || payload == doneSentinel {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed stream record")
			continue
		}

		observability.RecordDecodeEvent(ev.Type)

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				tool = &openTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					text.WriteString(ev.Delta.Text)
					if d.onText != nil {
						d.onText(ev.Delta.Text)
					}
				}
			case "input_json_delta":
				if tool != nil {
					tool.scratch.WriteString(ev.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if tool == nil {
				continue
			}
			invocations = append(invocations, ToolInvocation{
				ID:     tool.id,
				Name:   tool.name,
				Input:  resolveInput(tool),
				Status: StatusPending,
			})
			tool = nil

		case "message_stop":
			// end-of-message marker, nothing to do

		case "error":
			observability.RecordDecodeFailure()
			msg := "provider error"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			return nil, &ProtocolError{Message: msg}
		}
	}

	if err := scanner.Err(); err != nil {
		observability.RecordDecodeFailure()
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	return &Result{Text: text.String(), Invocations: invocations}, nil
}

// resolveInput parses the buffered JSON fragments. A fragment that does
// not parse resolves to an empty input rather than aborting the decode.
func resolveInput(tool *openTool) map[string]interface{} {
	input := map[string]interface{}{}
	raw := strings.TrimSpace(tool.scratch.String())
	if raw == "" {
		return input
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		log.Debug().
			Str("tool", tool.name).
			Err(err).
			Msg("Tool input fragment did not parse, using empty input")
		return map[string]interface{}{}
	}
	return input
}
