package config

import (
	"fmt"
)

// Config represents the main inkwell configuration
type Config struct {
	// Provider holds upstream model settings
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Agent holds loop behavior settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Server holds the local agent endpoint settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Sessions holds transcript store settings
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Notes holds note store settings
	Notes NotesConfig `json:"notes" mapstructure:"notes"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig holds upstream LLM provider configuration
type ProviderConfig struct {
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTurns     int    `json:"max_turns" mapstructure:"max_turns"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// SessionsConfig holds transcript store configuration
type SessionsConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	CleanupAgeDays  int    `json:"cleanup_age_days" mapstructure:"cleanup_age_days"`
}

// NotesConfig holds note store configuration
type NotesConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:   "https://api.anthropic.com",
			Model:     "claude-3-5-sonnet-20241022",
			MaxTokens: 4096,
		},
		Agent: AgentConfig{
			MaxTurns: 10,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3117,
		},
		Sessions: SessionsConfig{
			CleanupSchedule: "0 4 * * *",
			CleanupAgeDays:  7,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Validate checks the configuration for structural problems
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base_url cannot be empty")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider model cannot be empty")
	}
	if c.Provider.MaxTokens <= 0 {
		return fmt.Errorf("provider max_tokens must be positive")
	}
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent max_turns must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	return nil
}

// CredentialReady reports whether an upstream credential is present.
// The orchestrator refuses to start a turn without one.
func (c *Config) CredentialReady() bool {
	return c.Provider.APIKey != ""
}
