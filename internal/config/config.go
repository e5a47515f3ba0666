// Package config provides centralized configuration for the detection
// pipeline: a YAML config file with RELGATE_-prefixed environment
// overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/relgate/relgate/internal/rules"
	"github.com/relgate/relgate/internal/semantic"
	"github.com/relgate/relgate/internal/tracker"
)

// ChatConfig holds the message-source connection settings.
type ChatConfig struct {
	Token   string  `mapstructure:"token"`
	Channel string  `mapstructure:"channel"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// SemanticConfig selects and configures the classifier backend.
type SemanticConfig struct {
	// Backend is "ollama", "anthropic", or "off".
	Backend         string                   `mapstructure:"backend"`
	ConfidenceFloor int                      `mapstructure:"confidence_floor"`
	Ollama          semantic.OllamaConfig    `mapstructure:"ollama"`
	Anthropic       semantic.AnthropicConfig `mapstructure:"anthropic"`
}

// HistoryConfig configures the run-history store.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// Config is the full application configuration.
type Config struct {
	Chat     ChatConfig     `mapstructure:"chat"`
	Tracker  tracker.Config `mapstructure:"tracker"`
	Semantic SemanticConfig `mapstructure:"semantic"`
	Rules    rules.Config   `mapstructure:"rules"`
	History  HistoryConfig  `mapstructure:"history"`
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables use the RELGATE_ prefix with
// underscores for nesting: RELGATE_CHAT_TOKEN, RELGATE_SEMANTIC_BACKEND.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELGATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("chat.rps", 4.0)
	v.SetDefault("chat.burst", 4)
	v.SetDefault("semantic.backend", "ollama")
	v.SetDefault("semantic.confidence_floor", 60)
	v.SetDefault("semantic.ollama.base_url", semantic.DefaultOllamaURL)
	v.SetDefault("semantic.ollama.model", semantic.DefaultOllamaModel)
	v.SetDefault("semantic.ollama.temperature", 0.1)
	v.SetDefault("rules.negation_window", rules.DefaultConfig().NegationWindow)
	v.SetDefault("history.path", ".relgate/history.db")

	// Credentials conventionally live in the platform's own env vars;
	// bind them so the config file never needs secrets.
	_ = v.BindEnv("chat.token", "SLACK_TOKEN", "RELGATE_CHAT_TOKEN")
	_ = v.BindEnv("tracker.base_url", "JIRA_URL", "RELGATE_TRACKER_BASE_URL")
	_ = v.BindEnv("tracker.username", "JIRA_USERNAME", "RELGATE_TRACKER_USERNAME")
	_ = v.BindEnv("tracker.token", "JIRA_TOKEN", "RELGATE_TRACKER_TOKEN")
	_ = v.BindEnv("semantic.anthropic.api_key", "ANTHROPIC_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Rule overrides mutate the package-wide rule tables, so they are
	// applied here, once, before any pipeline is constructed.
	if cfg.Rules.OverridesPath != "" {
		o, err := rules.LoadOverrides(cfg.Rules.OverridesPath)
		if err != nil {
			return nil, err
		}
		if err := o.Apply(&cfg.Rules); err != nil {
			return nil, fmt.Errorf("applying rule overrides: %w", err)
		}
	}
	return &cfg, nil
}

// Validate surfaces unusable combinations as fatal startup errors
// rather than letting a run fail midway.
func (c *Config) Validate() error {
	switch c.Semantic.Backend {
	case "ollama", "anthropic", "off", "":
	default:
		return fmt.Errorf("invalid semantic backend: %q (want ollama, anthropic, or off)", c.Semantic.Backend)
	}
	if c.Semantic.ConfidenceFloor < 0 || c.Semantic.ConfidenceFloor > 100 {
		return fmt.Errorf("semantic confidence_floor must be between 0 and 100 (got %d)", c.Semantic.ConfidenceFloor)
	}
	if c.Rules.NegationWindow < 0 {
		return fmt.Errorf("rules negation_window cannot be negative (got %d)", c.Rules.NegationWindow)
	}
	if c.Chat.RPS <= 0 {
		return fmt.Errorf("chat rps must be positive (got %g)", c.Chat.RPS)
	}
	return nil
}

// BuildGenerator constructs the configured semantic backend, or nil
// when the backend is off.
func (c *Config) BuildGenerator() semantic.Generator {
	switch c.Semantic.Backend {
	case "anthropic":
		return semantic.NewAnthropicGenerator(c.Semantic.Anthropic)
	case "off":
		return nil
	default:
		return semantic.NewOllamaGenerator(c.Semantic.Ollama)
	}
}
