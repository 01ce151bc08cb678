// Package config loads and validates the runtime configuration.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Telegram TelegramConfig `yaml:"telegram"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Approval ApprovalConfig `yaml:"approval"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AgentConfig identifies the agent and its system prompt.
type AgentConfig struct {
	ID           string `yaml:"id"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LLMConfig configures the model clients and the fallback order.
type LLMConfig struct {
	// Primary is the model the chain tries first, "provider/model" form,
	// e.g. "anthropic/claude-sonnet-4-5" or "openai/gpt-4o".
	Primary string `yaml:"primary"`

	// Fallbacks are tried in order when the primary's stream ends with a
	// content filter or an unrecognized finish reason.
	Fallbacks []string `yaml:"fallbacks"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	MaxTokens       int    `yaml:"max_tokens"`
}

// TelegramConfig configures the Telegram source.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// DispatchConfig sizes the turn queue and worker pool.
type DispatchConfig struct {
	QueueCapacity int      `yaml:"queue_capacity"`
	Workers       int      `yaml:"workers"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Duration decodes Go duration strings ("30s", "5m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ApprovalConfig holds the tool whitelist patterns.
type ApprovalConfig struct {
	// Whitelist patterns: exact tool name, "namespace:*", or "*".
	Whitelist []string `yaml:"whitelist"`
}

// StorageConfig locates the thread-state store.
type StorageConfig struct {
	// Path is the SQLite database file; empty selects the in-memory store.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML config file, expands ${ENV} references, applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes. Exactly one YAML document is accepted.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected single document")
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration with all defaults applied, used
// when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.LLM.AnthropicAPIKey == "" {
		c.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.OpenAIAPIKey == "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("SWITCHBOARD_TELEGRAM_TOKEN"); v != "" && c.Telegram.BotToken == "" {
		c.Telegram.BotToken = v
	}
}

func (c *Config) applyDefaults() {
	if c.Agent.ID == "" {
		c.Agent.ID = "default"
	}
	if c.LLM.Primary == "" {
		c.LLM.Primary = "anthropic/claude-sonnet-4-5"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.Dispatch.QueueCapacity <= 0 {
		c.Dispatch.QueueCapacity = 16
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = c.Dispatch.QueueCapacity
	}
	if c.Dispatch.SweepInterval <= 0 {
		c.Dispatch.SweepInterval = Duration(time.Minute)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate reports configuration errors a running system could not recover
// from.
func (c *Config) Validate() error {
	models := append([]string{c.LLM.Primary}, c.LLM.Fallbacks...)
	for _, m := range models {
		provider, _, err := SplitModelRef(m)
		if err != nil {
			return err
		}
		switch provider {
		case "anthropic":
			if c.LLM.AnthropicAPIKey == "" {
				return fmt.Errorf("config: model %q needs llm.anthropic_api_key or ANTHROPIC_API_KEY", m)
			}
		case "openai":
			if c.LLM.OpenAIAPIKey == "" {
				return fmt.Errorf("config: model %q needs llm.openai_api_key or OPENAI_API_KEY", m)
			}
		default:
			return fmt.Errorf("config: unknown provider in model ref %q", m)
		}
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("config: telegram.bot_token is required when telegram is enabled")
	}
	return nil
}

// SplitModelRef splits a "provider/model" reference.
func SplitModelRef(ref string) (provider, model string, err error) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			if i == 0 || i == len(ref)-1 {
				break
			}
			return ref[:i], ref[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("config: model ref %q is not provider/model", ref)
}
