package notetools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/calder/inkwell/pkg/notestore"
	"github.com/calder/inkwell/pkg/tooldispatch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*tooldispatch.Dispatcher, *notestore.Store) {
	store, err := notestore.Open(notestore.Config{
		DBPath: filepath.Join(t.TempDir(), "notes.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dispatcher := tooldispatch.New()
	require.NoError(t, Register(dispatcher, store))
	return dispatcher, store
}

func TestRegister(t *testing.T) {
	t.Run("should register the full toolset", func(t *testing.T) {
		dispatcher, _ := newTestDispatcher(t)

		for _, name := range []string{
			"create_note", "read_note", "update_note", "delete_note",
			"list_notes", "list_folders",
			"create_objective", "set_objective_status", "list_objectives",
		} {
			assert.NotNil(t, dispatcher.Get(name), "missing tool %s", name)
		}
	})

	t.Run("should require a dispatcher and a store", func(t *testing.T) {
		assert.Error(t, Register(nil, nil))
		assert.Error(t, Register(tooldispatch.New(), nil))
	})
}

func TestNoteTools(t *testing.T) {
	ctx := context.Background()

	t.Run("should create then read a note", func(t *testing.T) {
		dispatcher, _ := newTestDispatcher(t)

		out, ok := dispatcher.Dispatch(ctx, "create_note", map[string]interface{}{
			"title":   "Plan",
			"content": "step one",
			"folder":  "work",
		})
		require.True(t, ok)

		var note notestore.Note
		require.NoError(t, json.Unmarshal([]byte(out), &note))
		assert.Equal(t, "Plan", note.Title)

		out, ok = dispatcher.Dispatch(ctx, "read_note", map[string]interface{}{"id": note.ID})
		require.True(t, ok)
		assert.Contains(t, out, "step one")
	})

	t.Run("should normalize missing note to a textual failure", func(t *testing.T) {
		dispatcher, _ := newTestDispatcher(t)

		out, ok := dispatcher.Dispatch(ctx, "read_note", map[string]interface{}{"id": "ghost"})
		assert.False(t, ok)
		assert.Contains(t, out, "no record with id ghost")
	})

	t.Run("should reject input missing required fields", func(t *testing.T) {
		dispatcher, _ := newTestDispatcher(t)

		out, ok := dispatcher.Dispatch(ctx, "create_note", map[string]interface{}{})
		assert.False(t, ok)
		assert.Contains(t, out, "title")
	})

	t.Run("should update and delete through the tools", func(t *testing.T) {
		dispatcher, store := newTestDispatcher(t)

		note, err := store.CreateNote(ctx, "Old", "v1", "")
		require.NoError(t, err)

		out, ok := dispatcher.Dispatch(ctx, "update_note", map[string]interface{}{
			"id":      note.ID,
			"title":   "New",
			"content": "v2",
		})
		require.True(t, ok)
		assert.Contains(t, out, "New")

		out, ok = dispatcher.Dispatch(ctx, "delete_note", map[string]interface{}{"id": note.ID})
		require.True(t, ok)
		assert.Contains(t, out, "deleted")

		_, err = store.GetNote(ctx, note.ID)
		assert.ErrorIs(t, err, notestore.ErrNotFound)
	})

	t.Run("should list notes and folders", func(t *testing.T) {
		dispatcher, store := newTestDispatcher(t)

		_, err := store.CreateNote(ctx, "A", "", "work")
		require.NoError(t, err)
		_, err = store.CreateNote(ctx, "B", "", "home")
		require.NoError(t, err)

		out, ok := dispatcher.Dispatch(ctx, "list_notes", map[string]interface{}{"folder": "work"})
		require.True(t, ok)
		assert.Contains(t, out, "A")
		assert.NotContains(t, out, "B")

		out, ok = dispatcher.Dispatch(ctx, "list_folders", map[string]interface{}{})
		require.True(t, ok)
		assert.Contains(t, out, "work")
		assert.Contains(t, out, "home")
	})

	t.Run("should report empty listings in plain text", func(t *testing.T) {
		dispatcher, _ := newTestDispatcher(t)

		out, ok := dispatcher.Dispatch(ctx, "list_notes", map[string]interface{}{})
		require.True(t, ok)
		assert.Equal(t, "no notes found", out)
	})
}

func TestObjectiveTools(t *testing.T) {
	ctx := context.Background()

	t.Run("should drive the objective lifecycle", func(t *testing.T) {
		dispatcher, _ := newTestDispatcher(t)

		out, ok := dispatcher.Dispatch(ctx, "create_objective", map[string]interface{}{"title": "Ship it"})
		require.True(t, ok)

		var obj notestore.Objective
		require.NoError(t, json.Unmarshal([]byte(out), &obj))
		assert.Equal(t, notestore.StatusPending, obj.Status)

		out, ok = dispatcher.Dispatch(ctx, "set_objective_status", map[string]interface{}{
			"id":     obj.ID,
			"status": notestore.StatusActive,
		})
		require.True(t, ok)
		assert.Contains(t, out, notestore.StatusActive)

		out, ok = dispatcher.Dispatch(ctx, "list_objectives", map[string]interface{}{"status": notestore.StatusActive})
		require.True(t, ok)
		assert.Contains(t, out, "Ship it")
	})

	t.Run("should normalize invalid status to a textual failure", func(t *testing.T) {
		dispatcher, store := newTestDispatcher(t)

		obj, err := store.CreateObjective(ctx, "X")
		require.NoError(t, err)

		out, ok := dispatcher.Dispatch(ctx, "set_objective_status", map[string]interface{}{
			"id":     obj.ID,
			"status": "sideways",
		})
		assert.False(t, ok)
		assert.Contains(t, out, "invalid status")
	})
}
