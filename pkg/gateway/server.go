// Package gateway exposes the local agent endpoint: a streaming
// /api/chat route, session lifecycle routes driving the stream
// registry, and a websocket feed of lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/calder/inkwell/internal/observability"
	"github.com/calder/inkwell/pkg/agent"
	"github.com/calder/inkwell/pkg/provider"
	"github.com/calder/inkwell/pkg/registry"
	"github.com/calder/inkwell/pkg/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Runner starts one chat turn and returns its event stream
type Runner interface {
	Run(ctx context.Context, params agent.RunParams) <-chan agent.Event
}

// Server is the local agent endpoint
type Server struct {
	host        string
	port        int
	runner      Runner
	registry    *registry.Registry
	store       *session.Store
	server      *http.Server
	mux         *http.ServeMux
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	broadcaster *EventBroadcaster
	logger      zerolog.Logger
	inFlight    sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host     string
	Port     int
	Runner   Runner
	Registry *registry.Registry
	Store    *session.Store
	Logger   zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	observability.EnsureRegistered()

	clients := NewClientRegistry()

	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		runner:      cfg.Runner,
		registry:    cfg.Registry,
		store:       cfg.Store,
		clients:     clients,
		broadcaster: NewEventBroadcaster(clients, cfg.Logger),
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Local endpoint, no cross-origin concerns
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/sessions/{id}/turn", s.handleTurn)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDestroy)
	mux.HandleFunc("POST /api/focus", s.handleFocus)
	mux.HandleFunc("GET /ws", s.handleFeed)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.mux = mux

	return s, nil
}

// Handler returns the server's route handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Broadcaster returns the lifecycle event broadcaster
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.mux,
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop shuts the server down, waiting for in-flight requests
func (s *Server) Stop() error {
	s.logger.Info().Msg("Shutting down gateway")

	s.broadcaster.Broadcast("server.shutdown", "", nil)

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleChat runs one stateless turn, streaming inner-protocol events
// as data-framed records. No `[DONE]` sentinel is emitted: `done` and
// `error` are themselves terminal.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.inFlight.Add(1)
	defer s.inFlight.Done()

	start := time.Now()
	requestID := uuid.NewString()
	logger := s.logger.With().Str("request_id", requestID).Logger()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	history := make([]provider.Message, 0, len(req.ConversationHistory))
	for _, msg := range req.ConversationHistory {
		history = append(history, provider.Message{Role: msg.Role, Content: msg.Content})
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Info().Int("history", len(history)).Msg("Chat turn started")

	terminal := "closed"
	events := s.runner.Run(r.Context(), agent.RunParams{
		Prompt:  req.Prompt,
		History: history,
	})

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to encode event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.Debug().Err(err).Msg("Client went away")
			break
		}
		flusher.Flush()

		if ev.Type == agent.EventDone || ev.Type == agent.EventError {
			terminal = string(ev.Type)
		}
	}

	observability.RecordChatRequest(terminal, time.Since(start))
	logger.Info().Str("terminal", terminal).Msg("Chat turn finished")
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := gonanoid.New()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate session id")
		return
	}

	if err := s.store.Create(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.broadcaster.Broadcast("session.created", id, nil)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	messages, err := s.store.Load(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	// The turn outlives this request; its lifetime is bounded by
	// Cancel/Destroy, not by the HTTP connection.
	if err := s.registry.StartTurn(context.Background(), id, req.Prompt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.broadcaster.Broadcast("session.turn_started", id, nil)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"streaming": s.registry.IsStreaming(id),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.registry.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.broadcaster.Broadcast("session.cancelled", id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.registry.Destroy(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.broadcaster.Broadcast("session.destroyed", id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}

	s.registry.FocusChange(req.From, req.To)
	s.broadcaster.Broadcast("session.focused", req.To, map[string]string{"from": req.From})
	writeJSON(w, http.StatusOK, map[string]string{"focused": req.To})
}

// handleFeed upgrades to a websocket and streams lifecycle events
// until the subscriber disconnects.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Feed upgrade failed")
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	s.clients.Add(client)
	s.logger.Info().Str("client_id", client.ID).Msg("Feed subscriber connected")

	// Subscribers only listen; the read loop exists to detect close.
	go func() {
		defer func() {
			s.clients.Remove(client.ID)
			conn.Close()
			s.logger.Info().Str("client_id", client.ID).Msg("Feed subscriber disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
