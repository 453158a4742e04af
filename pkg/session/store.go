// Package session persists conversation transcripts as JSONL files,
// one file per session, one message per line.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/calder/inkwell/internal/observability"
	"github.com/calder/inkwell/pkg/provider"
	"github.com/rs/zerolog/log"
)

// Entry is one transcript line: a message tagged with its session
type Entry struct {
	SessionID string           `json:"sessionId"`
	Timestamp time.Time        `json:"timestamp"`
	Message   provider.Message `json:"message"`
}

// Store manages transcript persistence using JSONL format
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// NewStore creates a new transcript store rooted at dir
func NewStore(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".inkwell", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("Transcript store initialized")
	s.updateActiveTranscriptsMetric()

	return s, nil
}

// validateSessionID rejects ids that could escape the store directory
func (s *Store) validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

func (s *Store) updateActiveTranscriptsMetric() {
	sessions, err := s.List()
	if err != nil {
		return
	}
	observability.SetActiveTranscripts(len(sessions))
}

func (s *Store) getWriteLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[sessionID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[sessionID] = lock
	return lock
}

func (s *Store) releaseWriteLock(sessionID string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, sessionID)
}

// Create creates an empty transcript file. Creating an existing
// session is a no-op.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	if err := s.validateSessionID(sessionID); err != nil {
		return err
	}

	path := s.path(sessionID)

	if _, err := os.Stat(path); err == nil {
		log.Debug().Str("session_id", sessionID).Msg("Session already exists")
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	file.Close()

	s.updateActiveTranscriptsMetric()
	log.Info().Str("session_id", sessionID).Msg("Session created")

	return nil
}

// AppendMessage appends one message to the session transcript
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error {
	start := time.Now()
	defer func() {
		observability.RecordTranscriptSave(time.Since(start))
	}()

	if err := s.validateSessionID(sessionID); err != nil {
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	// Tool-result and tool-use messages legitimately carry no text.
	if msg.Content == "" && len(msg.Invocations) == 0 && len(msg.ToolResults) == 0 {
		return fmt.Errorf("message carries no content")
	}

	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(sessionID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.Create(ctx, sessionID); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	entry := Entry{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Message:   msg,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("role", msg.Role).
		Msg("Message appended")

	return nil
}

// Load reads the full transcript in append order. Corrupt lines are
// skipped, not fatal. A missing session loads as empty.
func (s *Store) Load(ctx context.Context, sessionID string) ([]provider.Message, error) {
	start := time.Now()
	defer func() {
		observability.RecordTranscriptLoad(time.Since(start))
	}()

	if err := s.validateSessionID(sessionID); err != nil {
		return nil, err
	}

	path := s.path(sessionID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []provider.Message{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var messages []provider.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			log.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		if entry.Message.Role == "" {
			log.Warn().
				Str("session_id", sessionID).
				Int("line", lineNum).
				Msg("Invalid entry, skipping")
			continue
		}

		messages = append(messages, entry.Message)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	log.Debug().
		Str("session_id", sessionID).
		Int("messages", len(messages)).
		Msg("Transcript loaded")

	return messages, nil
}

// Delete removes a session transcript. Deleting a missing session is
// a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.validateSessionID(sessionID); err != nil {
		return err
	}

	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	s.releaseWriteLock(sessionID)
	s.updateActiveTranscriptsMetric()

	log.Info().Str("session_id", sessionID).Msg("Session deleted")

	return nil
}

// List returns the ids of all stored sessions
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}

	return sessions, nil
}

// Repair rewrites a transcript keeping only the parseable lines
func (s *Store) Repair(ctx context.Context, sessionID string) error {
	if err := s.validateSessionID(sessionID); err != nil {
		return err
	}

	messages, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(sessionID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, msg := range messages {
		data, err := json.Marshal(Entry{SessionID: sessionID, Timestamp: time.Now(), Message: msg})
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Int("messages", len(messages)).
		Msg("Transcript repaired")

	return nil
}

// Info returns transcript metadata for a session
func (s *Store) Info(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	if err := s.validateSessionID(sessionID); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session does not exist")
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	messages, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sessionId":    sessionID,
		"size":         info.Size(),
		"lastModified": info.ModTime(),
		"messageCount": len(messages),
	}, nil
}

// Age reports how long ago the transcript was last written
func (s *Store) Age(sessionID string) (time.Duration, error) {
	if err := s.validateSessionID(sessionID); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.path(sessionID))
	if err != nil {
		return 0, fmt.Errorf("failed to stat session file: %w", err)
	}

	return time.Since(info.ModTime()), nil
}

// Close releases all write locks
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	log.Info().Msg("Transcript store closed")

	return nil
}
