package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// chatRequest is the /api/chat request body
type chatRequest struct {
	Prompt              string           `json:"prompt"`
	ConversationHistory []historyMessage `json:"conversationHistory,omitempty"`
}

// historyMessage is one prior turn supplied by the client
type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// turnRequest is the body for starting a session turn
type turnRequest struct {
	Prompt string `json:"prompt"`
}

// focusRequest is the body for a focus change
type focusRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EventMessage is a server-initiated lifecycle event on the feed
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Session   string      `json:"session_id,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Client represents a connected feed subscriber
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	writeMu     sync.Mutex
}

// WriteMessage serializes writes to the underlying connection
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}
