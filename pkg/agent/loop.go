// Package agent drives the multi-turn exchange with the model:
// request, decode, dispatch tools, repeat, bounded by a fixed turn
// budget.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/calder/inkwell/internal/observability"
	"github.com/calder/inkwell/pkg/provider"
	"github.com/calder/inkwell/pkg/tooldispatch"
	"github.com/calder/inkwell/pkg/wire"
	"github.com/rs/zerolog"
)

// DefaultMaxTurns bounds request cycles per loop invocation. The hard
// stop caps cost and latency against a model that keeps requesting
// tools.
const DefaultMaxTurns = 10

// MaxTurnsMessage is the terminal error payload when the budget runs out
const MaxTurnsMessage = "Max turns reached"

// MissingCredentialMessage is the distinct readiness failure surfaced
// before any network call is attempted.
const MissingCredentialMessage = "missing API credential: set INKWELL_API_KEY or configure provider.api_key"

// Streamer issues one streaming completion request
type Streamer interface {
	Stream(ctx context.Context, req provider.Request, onText wire.TextFunc) (*wire.Result, error)
}

// Recorder persists history messages as the loop appends them.
// A nil recorder runs the loop statelessly.
type Recorder interface {
	AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error
}

// Config holds loop configuration
type Config struct {
	Client          Streamer
	Dispatcher      *tooldispatch.Dispatcher
	Recorder        Recorder
	Logger          zerolog.Logger
	SystemPrompt    string
	MaxTurns        int
	CredentialReady func() bool
}

// Loop is the agent loop orchestrator
type Loop struct {
	client          Streamer
	dispatcher      *tooldispatch.Dispatcher
	recorder        Recorder
	logger          zerolog.Logger
	systemPrompt    string
	maxTurns        int
	credentialReady func() bool
}

// New creates a new loop
func New(cfg Config) (*Loop, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.CredentialReady == nil {
		cfg.CredentialReady = func() bool { return true }
	}

	return &Loop{
		client:          cfg.Client,
		dispatcher:      cfg.Dispatcher,
		recorder:        cfg.Recorder,
		logger:          cfg.Logger,
		systemPrompt:    cfg.SystemPrompt,
		maxTurns:        cfg.MaxTurns,
		credentialReady: cfg.CredentialReady,
	}, nil
}

// RunParams contains input parameters for one loop invocation
type RunParams struct {
	SessionID string
	Prompt    string
	History   []provider.Message
}

// Run executes the loop and returns its event stream. The channel is
// closed after the terminal event, or without one if ctx is cancelled
// mid-run (cancellation is not an error).
func (l *Loop) Run(ctx context.Context, params RunParams) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		start := time.Now()
		state := l.run(ctx, params, events)
		observability.RecordLoopRun(state, time.Since(start))
	}()

	return events
}

// run drives the state machine; the returned string names the terminal
// state for metrics.
func (l *Loop) run(ctx context.Context, params RunParams, events chan<- Event) string {
	logger := l.logger.With().Str("session_id", params.SessionID).Logger()

	if !l.credentialReady() {
		logger.Warn().Msg("Turn refused, credential missing")
		l.emit(ctx, events, Event{Type: EventError, Message: MissingCredentialMessage})
		return "config_error"
	}

	messages := make([]provider.Message, 0, len(params.History)+1)
	messages = append(messages, params.History...)

	userMsg := provider.Message{Role: provider.RoleUser, Content: params.Prompt}
	messages = append(messages, userMsg)
	l.record(ctx, params.SessionID, userMsg)

	tools := l.toolSchemas()

	for turn := 0; turn < l.maxTurns; turn++ {
		if ctx.Err() != nil {
			return "cancelled"
		}

		logger.Debug().Int("turn", turn).Msg("Requesting")

		result, err := l.client.Stream(ctx, provider.Request{
			System:   l.systemPrompt,
			Messages: messages,
			Tools:    tools,
		}, func(text string) {
			l.emit(ctx, events, Event{Type: EventTextDelta, Text: text})
		})
		if err != nil {
			if ctx.Err() != nil {
				return "cancelled"
			}
			observability.RecordLoopTurn("failed")
			logger.Error().Err(err).Int("turn", turn).Msg("Turn failed")
			l.emit(ctx, events, Event{Type: EventError, Message: err.Error()})
			return "failed"
		}

		assistant := provider.Message{
			Role:        provider.RoleAssistant,
			Content:     result.Text,
			Invocations: result.Invocations,
		}
		messages = append(messages, assistant)
		l.record(ctx, params.SessionID, assistant)

		if len(result.Invocations) == 0 {
			observability.RecordLoopTurn("done")
			logger.Debug().Int("turn", turn).Msg("Loop complete")
			l.emit(ctx, events, Event{Type: EventDone})
			return "done"
		}

		observability.RecordLoopTurn("tool_use")

		// Tool calls run strictly in model-declared order; a later
		// call may depend on an earlier one's side effect.
		results := make([]provider.ToolResultBlock, 0, len(result.Invocations))
		for i := range result.Invocations {
			inv := result.Invocations[i]

			l.emit(ctx, events, Event{Type: EventToolUse, Tool: &inv})

			output, ok := l.dispatcher.Dispatch(ctx, inv.Name, inv.Input)
			inv.Result = output
			if ok {
				inv.Status = wire.StatusComplete
			} else {
				inv.Status = wire.StatusFailed
			}

			l.emit(ctx, events, Event{Type: EventToolResult, ID: inv.ID, Result: output})
			results = append(results, provider.ToolResultBlock{ID: inv.ID, Result: output})
		}

		toolMsg := provider.Message{Role: provider.RoleUser, ToolResults: results}
		messages = append(messages, toolMsg)
		l.record(ctx, params.SessionID, toolMsg)
	}

	observability.RecordLoopTurn("budget_exceeded")
	logger.Warn().Int("max_turns", l.maxTurns).Msg("Turn budget exhausted")
	l.emit(ctx, events, Event{Type: EventError, Message: MaxTurnsMessage})
	return "turn_limit"
}

// emit delivers an event unless the run has been cancelled
func (l *Loop) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (l *Loop) record(ctx context.Context, sessionID string, msg provider.Message) {
	if l.recorder == nil || sessionID == "" {
		return
	}
	if err := l.recorder.AppendMessage(ctx, sessionID, msg); err != nil {
		l.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("role", msg.Role).
			Msg("Failed to persist message")
	}
}

func (l *Loop) toolSchemas() []provider.ToolSchema {
	defs := l.dispatcher.List()
	if len(defs) == 0 {
		return nil
	}

	schemas := make([]provider.ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, provider.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: tooldispatch.SchemaMap(*def),
		})
	}
	return schemas
}
