// Package config loads the orchestrator configuration from a YAML file with
// environment variable expansion.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Engine     EngineConfig     `yaml:"engine"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	GitHub     GitHubConfig     `yaml:"github"`
	Search     SearchConfig     `yaml:"search"`
	Ambient    AmbientConfig    `yaml:"ambient"`
}

// AmbientConfig configures the periodic ambient tick. A zero interval
// disables it.
type AmbientConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelegramConfig configures the chat channel.
type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	OwnerChatID    string  `yaml:"owner_chat_id"`
	WebhookSecret  string  `yaml:"webhook_secret"`
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
	WebhookListen  string  `yaml:"webhook_listen"`
}

// EngineConfig configures the reasoning engine client.
type EngineConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	FastModel     string        `yaml:"fast_model"`
	PromptTimeout time.Duration `yaml:"prompt_timeout"`
	APIKey        string        `yaml:"api_key"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// SandboxConfig configures the sandbox control endpoint and the bridge ports
// inside it.
type SandboxConfig struct {
	BaseURL string `yaml:"base_url"`
	WSPort  int    `yaml:"ws_port"`
	MCPPort int    `yaml:"mcp_port"`
}

// GitHubConfig configures GitHub App credentials for coding tasks.
type GitHubConfig struct {
	ClientID       string `yaml:"client_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	InstallationID string `yaml:"installation_id"`
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// RenderURL is the browser-rendering endpoint used when a fetch needs
	// JavaScript execution. Empty disables the wait_for_js path.
	RenderURL string `yaml:"render_url"`
}

// Validate checks fields the orchestrator cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Store.Path) == "" {
		missing = append(missing, "store.path")
	}
	if strings.TrimSpace(c.Engine.BaseURL) == "" {
		missing = append(missing, "engine.base_url")
	}
	if strings.TrimSpace(c.Sandbox.BaseURL) == "" {
		missing = append(missing, "sandbox.base_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ApplyDefaults fills in defaults for optional fields.
func (c *Config) ApplyDefaults() {
	if c.Engine.PromptTimeout <= 0 {
		c.Engine.PromptTimeout = 10 * time.Minute
	}
	if c.Sandbox.WSPort == 0 {
		c.Sandbox.WSPort = 9920
	}
	if c.Sandbox.MCPPort == 0 {
		c.Sandbox.MCPPort = 9921
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "openai"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
