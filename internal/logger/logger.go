package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level   string // debug, info, warn, error
	File    string // log file path, empty for console-only
	Console bool   // enable console output
	Pretty  bool   // pretty format for console
}

// Logger wraps zerolog.Logger with an owned file handle
type Logger struct {
	logger zerolog.Logger
	file   *os.File
}

// New creates a new logger
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Console {
		var consoleWriter io.Writer = os.Stdout
		if cfg.Pretty {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	var file *os.File
	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	l := zerolog.New(writer).Level(level).With().Timestamp().Logger()

	return &Logger{logger: l, file: file}, nil
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.logger
}

// With returns a child logger carrying the given component field
func (l *Logger) With(component string) zerolog.Logger {
	return l.logger.With().Str("component", component).Logger()
}

// Close closes the log file if one is open
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
