// Package notetools registers the note and objective tools against a
// dispatcher, backed by a notestore.
package notetools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/calder/inkwell/pkg/notestore"
	"github.com/calder/inkwell/pkg/tooldispatch"
)

// Register registers the full note toolset
func Register(dispatcher *tooldispatch.Dispatcher, store *notestore.Store) error {
	if dispatcher == nil {
		return errors.New("dispatcher is required")
	}
	if store == nil {
		return errors.New("note store is required")
	}

	tools := []tooldispatch.Definition{
		createNoteTool(store),
		readNoteTool(store),
		updateNoteTool(store),
		deleteNoteTool(store),
		listNotesTool(store),
		listFoldersTool(store),
		createObjectiveTool(store),
		setObjectiveStatusTool(store),
		listObjectivesTool(store),
	}

	for _, tool := range tools {
		if err := dispatcher.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func createNoteTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "create_note",
		Description: "Create a new note with a title, body, and optional folder.",
		Parameters: []tooldispatch.Parameter{
			{Name: "title", Type: "string", Description: "Note title", Required: true},
			{Name: "content", Type: "string", Description: "Note body", Required: false},
			{Name: "folder", Type: "string", Description: "Folder to file the note under", Required: false},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			title, _ := input["title"].(string)
			content, _ := input["content"].(string)
			folder, _ := input["folder"].(string)

			note, err := store.CreateNote(ctx, title, content, folder)
			if err != nil {
				return "", err
			}
			return marshal(note)
		},
	}
}

func readNoteTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "read_note",
		Description: "Read a note by its id.",
		Parameters: []tooldispatch.Parameter{
			{Name: "id", Type: "string", Description: "Note id", Required: true},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			id, _ := input["id"].(string)

			note, err := store.GetNote(ctx, id)
			if err != nil {
				return "", noteError(id, err)
			}
			return marshal(note)
		},
	}
}

func updateNoteTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "update_note",
		Description: "Replace a note's title, body, and folder.",
		Parameters: []tooldispatch.Parameter{
			{Name: "id", Type: "string", Description: "Note id", Required: true},
			{Name: "title", Type: "string", Description: "New title", Required: true},
			{Name: "content", Type: "string", Description: "New body", Required: false},
			{Name: "folder", Type: "string", Description: "New folder", Required: false},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			id, _ := input["id"].(string)
			title, _ := input["title"].(string)
			content, _ := input["content"].(string)
			folder, _ := input["folder"].(string)

			note, err := store.UpdateNote(ctx, id, title, content, folder)
			if err != nil {
				return "", noteError(id, err)
			}
			return marshal(note)
		},
	}
}

func deleteNoteTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "delete_note",
		Description: "Delete a note by its id.",
		Parameters: []tooldispatch.Parameter{
			{Name: "id", Type: "string", Description: "Note id", Required: true},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			id, _ := input["id"].(string)

			if err := store.DeleteNote(ctx, id); err != nil {
				return "", noteError(id, err)
			}
			return fmt.Sprintf("note %s deleted", id), nil
		},
	}
}

func listNotesTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "list_notes",
		Description: "List notes, optionally restricted to one folder.",
		Parameters: []tooldispatch.Parameter{
			{Name: "folder", Type: "string", Description: "Folder to list; empty lists everything", Required: false},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			folder, _ := input["folder"].(string)

			notes, err := store.ListNotes(ctx, folder)
			if err != nil {
				return "", err
			}
			if len(notes) == 0 {
				return "no notes found", nil
			}
			return marshal(notes)
		},
	}
}

func listFoldersTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "list_folders",
		Description: "List the folders currently in use.",
		Parameters:  []tooldispatch.Parameter{},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			folders, err := store.ListFolders(ctx)
			if err != nil {
				return "", err
			}
			if len(folders) == 0 {
				return "no folders in use", nil
			}
			return strings.Join(folders, "\n"), nil
		},
	}
}

func createObjectiveTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "create_objective",
		Description: "Create a new objective. Objectives start as pending.",
		Parameters: []tooldispatch.Parameter{
			{Name: "title", Type: "string", Description: "Objective title", Required: true},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			title, _ := input["title"].(string)

			obj, err := store.CreateObjective(ctx, title)
			if err != nil {
				return "", err
			}
			return marshal(obj)
		},
	}
}

func setObjectiveStatusTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "set_objective_status",
		Description: "Move an objective to pending, active, paused, or completed.",
		Parameters: []tooldispatch.Parameter{
			{Name: "id", Type: "string", Description: "Objective id", Required: true},
			{Name: "status", Type: "string", Description: "Target status", Required: true},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			id, _ := input["id"].(string)
			status, _ := input["status"].(string)

			obj, err := store.SetObjectiveStatus(ctx, id, status)
			if err != nil {
				return "", noteError(id, err)
			}
			return marshal(obj)
		},
	}
}

func listObjectivesTool(store *notestore.Store) tooldispatch.Definition {
	return tooldispatch.Definition{
		Name:        "list_objectives",
		Description: "List objectives, optionally filtered by status.",
		Parameters: []tooldispatch.Parameter{
			{Name: "status", Type: "string", Description: "Status filter; empty lists everything", Required: false},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) (string, error) {
			status, _ := input["status"].(string)

			objectives, err := store.ListObjectives(ctx, status)
			if err != nil {
				return "", err
			}
			if len(objectives) == 0 {
				return "no objectives found", nil
			}
			return marshal(objectives)
		},
	}
}

func noteError(id string, err error) error {
	if errors.Is(err, notestore.ErrNotFound) {
		return fmt.Errorf("no record with id %s", id)
	}
	return err
}

func marshal(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}
