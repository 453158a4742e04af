// Package registry tracks per-session stream state: at most one active
// turn per session, cooperative cancellation, and render-sink
// detach/reattach across focus changes.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/calder/inkwell/internal/observability"
	"github.com/calder/inkwell/pkg/agent"
	"github.com/calder/inkwell/pkg/provider"
	"github.com/rs/zerolog"
)

// RenderSink is the incremental renderer boundary. Sinks are stateful
// parsers: they are never migrated between sessions, only constructed
// fresh and replayed into.
type RenderSink interface {
	Write(chunk string)
	End()
	Fail(message string)
}

// SinkFactory constructs a fresh sink for a session gaining focus
type SinkFactory func(sessionID string) RenderSink

// Runner starts one turn and returns its event stream
type Runner interface {
	Run(ctx context.Context, params agent.RunParams) <-chan agent.Event
}

// HistoryStore loads and appends session transcripts
type HistoryStore interface {
	Load(ctx context.Context, sessionID string) ([]provider.Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error
}

// streamState holds one session's live stream. accumulated is
// append-only for the life of a turn; it is the source of truth for
// replay-on-attach. committed counts the accumulated bytes already
// persisted to history by the runner, so Cancel preserves only the
// uncommitted tail.
type streamState struct {
	mu          sync.Mutex
	cancel      context.CancelFunc
	streaming   bool
	cancelled   bool
	accumulated strings.Builder
	committed   int
	sink        RenderSink
	done        chan struct{}
}

// Registry maps session ids to stream state
type Registry struct {
	runner      Runner
	store       HistoryStore
	sinkFactory SinkFactory
	logger      zerolog.Logger

	mu      sync.Mutex
	states  map[string]*streamState
	focused string
}

// Config holds registry configuration
type Config struct {
	Runner      Runner
	Store       HistoryStore
	SinkFactory SinkFactory
	Logger      zerolog.Logger
}

// New creates a new registry
func New(cfg Config) (*Registry, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.SinkFactory == nil {
		return nil, fmt.Errorf("sink factory is required")
	}

	observability.EnsureRegistered()

	return &Registry{
		runner:      cfg.Runner,
		store:       cfg.Store,
		sinkFactory: cfg.SinkFactory,
		logger:      cfg.Logger,
		states:      make(map[string]*streamState),
	}, nil
}

func (r *Registry) updateActiveStreamsMetric() {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, st := range r.states {
		st.mu.Lock()
		if st.streaming {
			active++
		}
		st.mu.Unlock()
	}
	observability.SetActiveStreams(active)
}

// StartTurn begins a turn for the session. A no-op while a turn is
// already streaming for that id.
func (r *Registry) StartTurn(ctx context.Context, sessionID, prompt string) error {
	// Focus and sink install happen under the r.mu then st.mu order, so
	// a concurrent FocusChange cannot slip between the focus sample and
	// the sink decision and leave a focused stream without a sink.
	r.mu.Lock()
	st, exists := r.states[sessionID]
	if !exists {
		st = &streamState{}
		r.states[sessionID] = st
	}
	focused := r.focused == sessionID
	st.mu.Lock()
	r.mu.Unlock()

	if st.streaming {
		st.mu.Unlock()
		r.logger.Debug().Str("session_id", sessionID).Msg("Turn already streaming, ignoring")
		return nil
	}

	history, err := r.store.Load(ctx, sessionID)
	if err != nil {
		st.mu.Unlock()
		return fmt.Errorf("failed to load history: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.streaming = true
	st.cancelled = false
	st.accumulated.Reset()
	st.committed = 0
	st.done = make(chan struct{})
	if focused {
		st.sink = r.sinkFactory(sessionID)
	} else {
		st.sink = nil
	}
	st.mu.Unlock()

	events := r.runner.Run(runCtx, agent.RunParams{
		SessionID: sessionID,
		Prompt:    prompt,
		History:   history,
	})

	go r.consume(sessionID, st, events)

	r.updateActiveStreamsMetric()
	r.logger.Info().Str("session_id", sessionID).Msg("Turn started")
	return nil
}

// consume drains the turn's event stream into the session state
func (r *Registry) consume(sessionID string, st *streamState, events <-chan agent.Event) {
	for ev := range events {
		switch ev.Type {
		case agent.EventTextDelta:
			st.mu.Lock()
			if !st.cancelled {
				// Accumulation is unconditional; the sink only sees
				// deltas while attached.
				st.accumulated.WriteString(ev.Text)
				if st.sink != nil {
					st.sink.Write(ev.Text)
				}
			}
			st.mu.Unlock()

		case agent.EventToolUse:
			r.logger.Debug().
				Str("session_id", sessionID).
				Str("tool", ev.Tool.Name).
				Msg("Tool invocation streamed")

		case agent.EventToolResult:

		case agent.EventDone:
			st.mu.Lock()
			st.streaming = false
			st.cancel = nil
			// A done racing Cancel must not End the sink a second
			// time; Cancel owns finalization once cancelled is set.
			if !st.cancelled && st.sink != nil {
				st.sink.End()
			}
			st.mu.Unlock()
			r.logger.Info().Str("session_id", sessionID).Msg("Turn complete")

		case agent.EventError:
			st.mu.Lock()
			st.streaming = false
			st.cancel = nil
			if !st.cancelled && st.sink != nil {
				st.sink.Fail(ev.Message)
			}
			st.mu.Unlock()
			r.logger.Warn().
				Str("session_id", sessionID).
				Str("error", ev.Message).
				Msg("Turn failed")
		}
	}

	st.mu.Lock()
	st.streaming = false
	done := st.done
	st.mu.Unlock()
	if done != nil {
		close(done)
	}

	r.updateActiveStreamsMetric()
}

// AppendMessage persists a history message through the session's stream
// bookkeeping. The runner records each cycle's messages here, so Cancel
// can tell committed text from the uncommitted tail; once a turn is
// cancelled, Cancel owns finalization and late runner appends are
// dropped. Sessions with no stream state write straight through.
func (r *Registry) AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error {
	r.mu.Lock()
	st, exists := r.states[sessionID]
	r.mu.Unlock()
	if !exists {
		return r.store.AppendMessage(ctx, sessionID, msg)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancelled {
		return nil
	}
	if err := r.store.AppendMessage(ctx, sessionID, msg); err != nil {
		return err
	}
	if msg.Role == provider.RoleAssistant {
		st.committed += len(msg.Content)
	}
	return nil
}

// Cancel aborts the session's in-flight turn. Accumulated text the
// runner has not yet committed to history is preserved as one completed
// assistant message, never dropped and never re-appended.
func (r *Registry) Cancel(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	st, exists := r.states[sessionID]
	r.mu.Unlock()
	if !exists {
		return nil
	}

	st.mu.Lock()
	if !st.streaming {
		st.mu.Unlock()
		return nil
	}
	st.cancelled = true
	st.streaming = false
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	partial := st.accumulated.String()
	if st.committed < len(partial) {
		partial = partial[st.committed:]
	} else {
		partial = ""
	}
	sink := st.sink
	done := st.done
	st.mu.Unlock()

	if partial != "" {
		if err := r.store.AppendMessage(ctx, sessionID, provider.Message{
			Role:    provider.RoleAssistant,
			Content: partial,
		}); err != nil {
			return fmt.Errorf("failed to preserve partial output: %w", err)
		}
	}

	if sink != nil {
		sink.End()
	}

	// Wait for the consumer goroutine so no delta callback can fire
	// after Cancel returns.
	if done != nil {
		<-done
	}

	observability.RecordStreamCancel()
	r.updateActiveStreamsMetric()
	r.logger.Info().
		Str("session_id", sessionID).
		Int("partial_bytes", len(partial)).
		Msg("Turn cancelled")
	return nil
}

// FocusChange detaches the render sink from the session losing focus
// and attaches a fresh one, primed with a single replay of the full
// accumulated text, to the session gaining it. The detached session's
// network call keeps running.
func (r *Registry) FocusChange(fromID, toID string) {
	r.mu.Lock()
	r.focused = toID
	from := r.states[fromID]
	to := r.states[toID]
	r.mu.Unlock()

	if from != nil && fromID != toID {
		from.mu.Lock()
		from.sink = nil
		from.mu.Unlock()
	}

	if to != nil {
		to.mu.Lock()
		if to.streaming {
			sink := r.sinkFactory(toID)
			if replay := to.accumulated.String(); replay != "" {
				sink.Write(replay)
			}
			to.sink = sink
		}
		to.mu.Unlock()
	}

	observability.RecordFocusChange()
	r.logger.Debug().Str("from", fromID).Str("to", toID).Msg("Focus changed")
}

// Destroy discards the session's stream state. A mid-stream destroy
// behaves as Cancel first so partial output survives in history.
func (r *Registry) Destroy(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	st, exists := r.states[sessionID]
	r.mu.Unlock()
	if !exists {
		return nil
	}

	st.mu.Lock()
	streaming := st.streaming
	st.mu.Unlock()

	if streaming {
		if err := r.Cancel(ctx, sessionID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	delete(r.states, sessionID)
	if r.focused == sessionID {
		r.focused = ""
	}
	r.mu.Unlock()

	r.updateActiveStreamsMetric()
	r.logger.Info().Str("session_id", sessionID).Msg("Session destroyed")
	return nil
}

// IsStreaming reports whether the session has an active turn
func (r *Registry) IsStreaming(sessionID string) bool {
	r.mu.Lock()
	st, exists := r.states[sessionID]
	r.mu.Unlock()
	if !exists {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.streaming
}

// Accumulated returns the text accumulated so far for the session
func (r *Registry) Accumulated(sessionID string) string {
	r.mu.Lock()
	st, exists := r.states[sessionID]
	r.mu.Unlock()
	if !exists {
		return ""
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.accumulated.String()
}

// Wait blocks until the session's current turn finishes. Intended for
// tests and orderly shutdown.
func (r *Registry) Wait(sessionID string) {
	r.mu.Lock()
	st, exists := r.states[sessionID]
	r.mu.Unlock()
	if !exists {
		return
	}

	st.mu.Lock()
	done := st.done
	st.mu.Unlock()
	if done != nil {
		<-done
	}
}
