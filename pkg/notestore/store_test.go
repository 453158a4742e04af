package notestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	store, err := Open(Config{
		DBPath: filepath.Join(t.TempDir(), "notes.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNotes(t *testing.T) {
	ctx := context.Background()

	t.Run("should create and fetch a note", func(t *testing.T) {
		store := newTestStore(t)

		created, err := store.CreateNote(ctx, "Shopping", "milk, eggs", "personal")
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		got, err := store.GetNote(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Shopping", got.Title)
		assert.Equal(t, "milk, eggs", got.Content)
		assert.Equal(t, "personal", got.Folder)
	})

	t.Run("should reject empty titles", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.CreateNote(ctx, "  ", "body", "")
		assert.Error(t, err)
	})

	t.Run("should update a note", func(t *testing.T) {
		store := newTestStore(t)

		created, err := store.CreateNote(ctx, "Draft", "v1", "")
		require.NoError(t, err)

		updated, err := store.UpdateNote(ctx, created.ID, "Draft", "v2", "work")
		require.NoError(t, err)
		assert.Equal(t, "v2", updated.Content)
		assert.Equal(t, "work", updated.Folder)
	})

	t.Run("should return not found for missing ids", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.GetNote(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.UpdateNote(ctx, "nope", "t", "c", "")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, store.DeleteNote(ctx, "nope"), ErrNotFound)
	})

	t.Run("should delete a note", func(t *testing.T) {
		store := newTestStore(t)

		created, err := store.CreateNote(ctx, "Temp", "x", "")
		require.NoError(t, err)

		require.NoError(t, store.DeleteNote(ctx, created.ID))
		_, err = store.GetNote(ctx, created.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should filter notes by folder", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.CreateNote(ctx, "A", "", "work")
		require.NoError(t, err)
		_, err = store.CreateNote(ctx, "B", "", "personal")
		require.NoError(t, err)
		_, err = store.CreateNote(ctx, "C", "", "work")
		require.NoError(t, err)

		work, err := store.ListNotes(ctx, "work")
		require.NoError(t, err)
		assert.Len(t, work, 2)

		all, err := store.ListNotes(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("should list distinct folders", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.CreateNote(ctx, "A", "", "work")
		require.NoError(t, err)
		_, err = store.CreateNote(ctx, "B", "", "work")
		require.NoError(t, err)
		_, err = store.CreateNote(ctx, "C", "", "")
		require.NoError(t, err)

		folders, err := store.ListFolders(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"work"}, folders)
	})
}

func TestObjectives(t *testing.T) {
	ctx := context.Background()

	t.Run("should create objectives as pending", func(t *testing.T) {
		store := newTestStore(t)

		obj, err := store.CreateObjective(ctx, "Ship the release")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, obj.Status)
	})

	t.Run("should move objectives through states", func(t *testing.T) {
		store := newTestStore(t)

		obj, err := store.CreateObjective(ctx, "Write docs")
		require.NoError(t, err)

		obj, err = store.SetObjectiveStatus(ctx, obj.ID, StatusActive)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, obj.Status)

		obj, err = store.SetObjectiveStatus(ctx, obj.ID, StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, obj.Status)
	})

	t.Run("should reject unknown statuses", func(t *testing.T) {
		store := newTestStore(t)

		obj, err := store.CreateObjective(ctx, "X")
		require.NoError(t, err)

		_, err = store.SetObjectiveStatus(ctx, obj.ID, "sideways")
		assert.Error(t, err)
	})

	t.Run("should filter objectives by status", func(t *testing.T) {
		store := newTestStore(t)

		a, err := store.CreateObjective(ctx, "A")
		require.NoError(t, err)
		_, err = store.CreateObjective(ctx, "B")
		require.NoError(t, err)

		_, err = store.SetObjectiveStatus(ctx, a.ID, StatusCompleted)
		require.NoError(t, err)

		pending, err := store.ListObjectives(ctx, StatusPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "B", pending[0].Title)
	})

	t.Run("should pause active objectives on reopen", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "notes.db")
		logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

		store, err := Open(Config{DBPath: dbPath, Logger: logger})
		require.NoError(t, err)

		obj, err := store.CreateObjective(ctx, "In flight")
		require.NoError(t, err)
		_, err = store.SetObjectiveStatus(ctx, obj.ID, StatusActive)
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened, err := Open(Config{DBPath: dbPath, Logger: logger})
		require.NoError(t, err)
		defer reopened.Close()

		got, err := reopened.GetObjective(ctx, obj.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaused, got.Status)
	})
}
