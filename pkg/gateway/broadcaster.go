package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster fans lifecycle events out to all feed subscribers
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends an event to every connected subscriber
func (b *EventBroadcaster) Broadcast(event, sessionID string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Session:   sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.nextSeq(),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Msg("Failed to marshal event")
		return
	}

	clients := b.clients.GetAll()
	if len(clients) == 0 {
		return
	}

	failed := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", msg.Event).
				Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Str("session_id", msg.Session).
		Int("clients", len(clients)).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

func (b *EventBroadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
