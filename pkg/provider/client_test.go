package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calder/inkwell/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *Client {
	c, err := NewClient(Config{
		BaseURL:   url,
		APIKey:    "test-key",
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 1024,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("should require base URL", func(t *testing.T) {
		_, err := NewClient(Config{Model: "m"})
		assert.Error(t, err)
	})

	t.Run("should require model", func(t *testing.T) {
		_, err := NewClient(Config{BaseURL: "http://x"})
		assert.Error(t, err)
	})
}

func TestStream(t *testing.T) {
	t.Run("should send protocol fields and decode text", func(t *testing.T) {
		var captured map[string]interface{}

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &captured))

			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "/v1/messages", r.URL.Path)

			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n")
			fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		result, err := c.Stream(context.Background(), Request{
			System:   "be brief",
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		}, nil)
		require.NoError(t, err)

		assert.Equal(t, "hello", result.Text)
		assert.Equal(t, true, captured["stream"])
		assert.Equal(t, "be brief", captured["system"])
		assert.Equal(t, "claude-3-5-sonnet-20241022", captured["model"])
		assert.Equal(t, float64(1024), captured["max_tokens"])
	})

	t.Run("should return HTTPError on non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.Stream(context.Background(), Request{}, nil)
		require.Error(t, err)

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, 500, httpErr.StatusCode)
		assert.Equal(t, "API error: 500", httpErr.Error())
	})

	t.Run("should honor context cancellation", func(t *testing.T) {
		blocked := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-blocked
		}))
		defer srv.Close()
		defer close(blocked)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := newTestClient(t, srv.URL)
		_, err := c.Stream(ctx, Request{}, nil)
		assert.Error(t, err)
	})
}

func TestEncodeMessages(t *testing.T) {
	t.Run("should keep plain messages as strings", func(t *testing.T) {
		out := encodeMessages([]Message{{Role: RoleUser, Content: "hi"}})
		require.Len(t, out, 1)
		assert.Equal(t, "hi", out[0].Content)
	})

	t.Run("should expand assistant invocations into blocks", func(t *testing.T) {
		out := encodeMessages([]Message{{
			Role:    RoleAssistant,
			Content: "thinking",
			Invocations: []wire.ToolInvocation{
				{ID: "tu_1", Name: "read_note", Input: map[string]interface{}{"id": "n1"}},
			},
		}})

		require.Len(t, out, 1)
		blocks := out[0].Content.([]contentBlock)
		require.Len(t, blocks, 2)
		assert.Equal(t, "text", blocks[0].Type)
		assert.Equal(t, "tool_use", blocks[1].Type)
		assert.Equal(t, "tu_1", blocks[1].ID)
	})

	t.Run("should expand tool results into blocks", func(t *testing.T) {
		out := encodeMessages([]Message{{
			Role:        RoleUser,
			ToolResults: []ToolResultBlock{{ID: "tu_1", Result: "ok"}},
		}})

		require.Len(t, out, 1)
		blocks := out[0].Content.([]contentBlock)
		require.Len(t, blocks, 1)
		assert.Equal(t, "tool_result", blocks[0].Type)
		assert.Equal(t, "tu_1", blocks[0].ToolUseID)
	})
}
