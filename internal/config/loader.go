package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".inkwell", "inkwell.json"), nil
}

// Path returns the resolved config file path
func (l *Loader) Path() (string, error) {
	return l.resolvePath()
}

// Load loads the configuration from file, applying defaults and
// environment overrides. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("INKWELL")
	v.AutomaticEnv()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	// Environment always wins for the credential
	if key := os.Getenv("INKWELL_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".inkwell")
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Notes.DBPath == "" {
		cfg.Notes.DBPath = filepath.Join(cfg.DataDir, "notes.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "inkwell.log")
	}

	return cfg, nil
}

// Save writes the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("provider", cfg.Provider)
	v.Set("agent", cfg.Agent)
	v.Set("server", cfg.Server)
	v.Set("sessions", cfg.Sessions)
	v.Set("notes", cfg.Notes)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
