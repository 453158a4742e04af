// Package notestore persists notes and objectives in SQLite. It backs
// the note tools exposed to the model.
package notestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a note or objective id does not exist
var ErrNotFound = errors.New("not found")

// Objective lifecycle states
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Note is one stored note
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Folder    string    `json:"folder"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Objective is a tracked goal with a lifecycle status
type Objective struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store wraps the notes database
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Open opens the store, creating the schema if needed. Any objective
// persisted as active is downgraded to paused: a fresh process never
// trusts a previous run's notion of what is in flight.
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	res, err := db.Exec(`UPDATE objectives SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPaused, time.Now().Unix(), StatusActive)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to pause stale objectives: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info().Int64("count", n).Msg("Paused objectives left active by a previous run")
	}

	s.logger.Info().Str("db", cfg.DBPath).Msg("Note store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			folder TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder);

		CREATE TABLE IF NOT EXISTS objectives (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_objectives_status ON objectives(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateNote stores a new note and returns it
func (s *Store) CreateNote(ctx context.Context, title, content, folder string) (*Note, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title is required")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notes (id, title, content, folder, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, title, content, folder, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}

	s.logger.Debug().Str("note_id", id).Str("folder", folder).Msg("Note created")

	return &Note{ID: id, Title: title, Content: content, Folder: folder, CreatedAt: now, UpdatedAt: now}, nil
}

// GetNote fetches one note by id
func (s *Store) GetNote(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, folder, created_at, updated_at FROM notes WHERE id = ?`, id)
	return scanNote(row)
}

// UpdateNote replaces a note's title, content, and folder
func (s *Store) UpdateNote(ctx context.Context, id, title, content, folder string) (*Note, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title is required")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, folder = ?, updated_at = ? WHERE id = ?`,
		title, content, folder, time.Now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return s.GetNote(ctx, id)
}

// DeleteNote removes a note by id
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.logger.Debug().Str("note_id", id).Msg("Note deleted")
	return nil
}

// ListNotes returns notes, newest first. An empty folder lists all.
func (s *Store) ListNotes(ctx context.Context, folder string) ([]Note, error) {
	query := `SELECT id, title, content, folder, created_at, updated_at FROM notes`
	args := []interface{}{}
	if folder != "" {
		query += ` WHERE folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

// ListFolders returns the distinct non-empty folder names in use
func (s *Store) ListFolders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT folder FROM notes WHERE folder != '' ORDER BY folder`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	folders := []string{}
	for rows.Next() {
		var folder string
		if err := rows.Scan(&folder); err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}
	return folders, rows.Err()
}

// CreateObjective stores a new objective in pending state
func (s *Store) CreateObjective(ctx context.Context, title string) (*Objective, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title is required")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objectives (id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, title, StatusPending, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert objective: %w", err)
	}

	s.logger.Debug().Str("objective_id", id).Msg("Objective created")

	return &Objective{ID: id, Title: title, Status: StatusPending, CreatedAt: now, UpdatedAt: now}, nil
}

// SetObjectiveStatus moves an objective to a new lifecycle state
func (s *Store) SetObjectiveStatus(ctx context.Context, id, status string) (*Objective, error) {
	switch status {
	case StatusPending, StatusActive, StatusPaused, StatusCompleted:
	default:
		return nil, fmt.Errorf("invalid status: %s", status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE objectives SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update objective: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return s.GetObjective(ctx, id)
}

// GetObjective fetches one objective by id
func (s *Store) GetObjective(ctx context.Context, id string) (*Objective, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, created_at, updated_at FROM objectives WHERE id = ?`, id)

	var obj Objective
	var created, updated int64
	if err := row.Scan(&obj.ID, &obj.Title, &obj.Status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan objective: %w", err)
	}
	obj.CreatedAt = time.Unix(created, 0)
	obj.UpdatedAt = time.Unix(updated, 0)
	return &obj, nil
}

// ListObjectives returns objectives, optionally filtered by status
func (s *Store) ListObjectives(ctx context.Context, status string) ([]Objective, error) {
	query := `SELECT id, title, status, created_at, updated_at FROM objectives`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list objectives: %w", err)
	}
	defer rows.Close()

	objectives := []Objective{}
	for rows.Next() {
		var obj Objective
		var created, updated int64
		if err := rows.Scan(&obj.ID, &obj.Title, &obj.Status, &created, &updated); err != nil {
			return nil, err
		}
		obj.CreatedAt = time.Unix(created, 0)
		obj.UpdatedAt = time.Unix(updated, 0)
		objectives = append(objectives, obj)
	}
	return objectives, rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row rowScanner) (*Note, error) {
	var note Note
	var created, updated int64
	if err := row.Scan(&note.ID, &note.Title, &note.Content, &note.Folder, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan note: %w", err)
	}
	note.CreatedAt = time.Unix(created, 0)
	note.UpdatedAt = time.Unix(updated, 0)
	return &note, nil
}
