package wire

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader yields the input in tiny reads so lines split across
// read boundaries.
type chunkReader struct {
	data []byte
	pos  int
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	end := c.pos + c.size
	if end > len(c.data) {
		end = len(c.data)
	}
	n := copy(p, c.data[c.pos:end])
	c.pos += n
	return n, nil
}

func sse(records ...string) string {
	var b strings.Builder
	for _, r := range records {
		b.WriteString("data: ")
		b.WriteString(r)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestDecode(t *testing.T) {
	t.Run("should accumulate text and forward deltas", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_start","content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello, "}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"world"}}`,
			`{"type":"content_block_stop"}`,
			`{"type":"message_stop"}`,
		)

		var deltas []string
		d := NewDecoder(strings.NewReader(body), func(s string) { deltas = append(deltas, s) })
		result, err := d.Decode()
		require.NoError(t, err)

		assert.Equal(t, "Hello, world", result.Text)
		assert.Equal(t, []string{"Hello, ", "world"}, deltas)
		assert.Empty(t, result.Invocations)
	})

	t.Run("should resolve tool input from partial JSON fragments", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_1","name":"create_note"}}`,
			`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"a\":1"}}`,
			`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"}"}}`,
			`{"type":"content_block_stop"}`,
			`{"type":"message_stop"}`,
		)

		result, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.NoError(t, err)

		require.Len(t, result.Invocations, 1)
		inv := result.Invocations[0]
		assert.Equal(t, "tu_1", inv.ID)
		assert.Equal(t, "create_note", inv.Name)
		assert.Equal(t, map[string]interface{}{"a": float64(1)}, inv.Input)
		assert.Equal(t, StatusPending, inv.Status)
	})

	t.Run("should resolve malformed tool input to empty object", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_2","name":"create_note"}}`,
			`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{not json"}}`,
			`{"type":"content_block_stop"}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"after"}}`,
			`{"type":"message_stop"}`,
		)

		result, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.NoError(t, err)

		require.Len(t, result.Invocations, 1)
		assert.Equal(t, map[string]interface{}{}, result.Invocations[0].Input)
		assert.Equal(t, "after", result.Text, "decode continues past the bad fragment")
	})

	t.Run("should be deterministic for identical input", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"abc"}}`,
			`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_3","name":"list_notes"}}`,
			`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{}"}}`,
			`{"type":"content_block_stop"}`,
			`{"type":"message_stop"}`,
		)

		first, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.NoError(t, err)
		second, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("should handle lines split across reads", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"split across reads"}}`,
			`{"type":"message_stop"}`,
		)

		r := &chunkReader{data: []byte(body), size: 3}
		result, err := NewDecoder(r, nil).Decode()
		require.NoError(t, err)
		assert.Equal(t, "split across reads", result.Text)
	})

	t.Run("should ignore the DONE sentinel", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}`,
			`[DONE]`,
		)

		result, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.NoError(t, err)
		assert.Equal(t, "x", result.Text)
	})

	t.Run("should skip malformed records", func(t *testing.T) {
		body := "data: {{{\n\n" + sse(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}`)

		result, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Text)
	})

	t.Run("should raise on explicit error event", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"partial"}}`,
			`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
		)

		_, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.Error(t, err)

		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "overloaded", perr.Message)
	})

	t.Run("should refuse reuse", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(""), nil)
		_, err := d.Decode()
		require.NoError(t, err)

		_, err = d.Decode()
		assert.Error(t, err)
	})

	t.Run("should preserve declaration order of multiple tools", func(t *testing.T) {
		body := sse(
			`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_a","name":"read_note"}}`,
			`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"id\":\"n1\"}"}}`,
			`{"type":"content_block_stop"}`,
			`{"type":"content_block_start","content_block":{"type":"tool_use","id":"tu_b","name":"read_note"}}`,
			`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"id\":\"n2\"}"}}`,
			`{"type":"content_block_stop"}`,
			`{"type":"message_stop"}`,
		)

		result, err := NewDecoder(strings.NewReader(body), nil).Decode()
		require.NoError(t, err)
		require.Len(t, result.Invocations, 2)
		assert.Equal(t, "tu_a", result.Invocations[0].ID)
		assert.Equal(t, "tu_b", result.Invocations[1].ID)
	})
}
