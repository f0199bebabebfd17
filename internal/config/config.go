// Package config handles toolchat configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names understood by the completion client factory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Model round policies understood by the dialogue loop.
const (
	// PolicyFallbackAfterFirstRound tries primary then fallback on the
	// first round and uses only the fallback model afterwards.
	PolicyFallbackAfterFirstRound = "fallback_after_first_round"
	// PolicyPrimaryEachRound tries primary then fallback on every round.
	PolicyPrimaryEachRound = "primary_each_round"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/toolchat/config.yaml, /etc/toolchat/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "toolchat", "config.yaml"))
	}

	paths = append(paths, "/etc/toolchat/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no file exists in any of
// the default locations.
var ErrNoConfig = fmt.Errorf("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error wrapping ErrNoConfig if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all toolchat configuration.
type Config struct {
	Listen     ListenConfig            `yaml:"listen"`
	Completion CompletionConfig        `yaml:"completion"`
	OpenAI     OpenAIConfig            `yaml:"openai"`
	Anthropic  AnthropicConfig         `yaml:"anthropic"`
	Dialogue   DialogueConfig          `yaml:"dialogue"`
	Weather    WeatherConfig           `yaml:"weather"`
	MQTT       MQTTConfig              `yaml:"mqtt"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
	DataDir    string                  `yaml:"data_dir"`
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// CompletionConfig selects the completion endpoint and the
// primary/fallback model pair.
type CompletionConfig struct {
	// Provider is the default provider for models not listed in Models.
	Provider      string        `yaml:"provider"`
	PrimaryModel  string        `yaml:"primary_model"`
	FallbackModel string        `yaml:"fallback_model"`
	Models        []ModelConfig `yaml:"models"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai, anthropic
}

// OpenAIConfig defines OpenAI (or OpenAI-compatible) API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // Optional, for compatible servers
}

// Configured reports whether an API key is present.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// DialogueConfig tunes the dialogue loop.
type DialogueConfig struct {
	// MaxRounds bounds completion requests per user message.
	MaxRounds int `yaml:"max_rounds"`
	// Budget bounds the wall-clock time of one user message. Zero disables it.
	Budget time.Duration `yaml:"budget"`
	// ConcurrentTools executes the tool calls of one assistant turn in parallel.
	ConcurrentTools bool `yaml:"concurrent_tools"`
	// ModelPolicy is one of the Policy* constants.
	ModelPolicy string `yaml:"model_policy"`
	// SystemPrompt, when set, is sent ahead of the transcript on every request.
	SystemPrompt string `yaml:"system_prompt"`
	// SessionIdle is how long an unused conversation is kept in memory.
	SessionIdle time.Duration `yaml:"session_idle"`
}

// WeatherConfig defines the get_weather tool endpoints.
type WeatherConfig struct {
	Disabled    bool   `yaml:"disabled"`
	GeocodeURL  string `yaml:"geocode_url"`
	ForecastURL string `yaml:"forecast_url"`
}

// MQTTConfig defines the optional MQTT event bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://broker:1883 or mqtts://...
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// PricingEntry is the per-million-token price of a model in USD.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expanding environment
// variables, applying defaults and environment key fallbacks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration. API keys are taken from the
// environment when present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Completion.Provider == "" {
		c.Completion.Provider = ProviderOpenAI
	}
	c.Completion.Provider = strings.ToLower(c.Completion.Provider)
	if c.Completion.PrimaryModel == "" {
		c.Completion.PrimaryModel = "gpt-4"
	}
	if c.Completion.FallbackModel == "" {
		c.Completion.FallbackModel = "gpt-3.5-turbo"
	}
	for i := range c.Completion.Models {
		if c.Completion.Models[i].Provider == "" {
			c.Completion.Models[i].Provider = c.Completion.Provider
		}
		c.Completion.Models[i].Provider = strings.ToLower(c.Completion.Models[i].Provider)
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Dialogue.MaxRounds == 0 {
		c.Dialogue.MaxRounds = 10
	}
	if c.Dialogue.ModelPolicy == "" {
		c.Dialogue.ModelPolicy = PolicyFallbackAfterFirstRound
	}
	if c.Dialogue.SessionIdle == 0 {
		c.Dialogue.SessionIdle = time.Hour
	}
	if c.Weather.GeocodeURL == "" {
		c.Weather.GeocodeURL = "https://nominatim.openstreetmap.org/search"
	}
	if c.Weather.ForecastURL == "" {
		c.Weather.ForecastURL = "https://api.weather.gov"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "toolchat"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// ProviderFor returns the provider that serves model.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Completion.Models {
		if m.Name == model {
			return m.Provider
		}
	}
	return c.Completion.Provider
}

// providerConfigured reports whether credentials exist for provider.
func (c *Config) providerConfigured(provider string) bool {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAI.Configured()
	case ProviderAnthropic:
		return c.Anthropic.Configured()
	}
	return false
}

// Validate checks the configuration for errors that must stop startup.
// A missing credential for the provider serving either the primary or
// the fallback model is fatal.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q invalid (expected text or json)", c.LogFormat)
	}
	if c.Dialogue.MaxRounds < 1 {
		return fmt.Errorf("dialogue.max_rounds must be at least 1, got %d", c.Dialogue.MaxRounds)
	}
	switch c.Dialogue.ModelPolicy {
	case PolicyFallbackAfterFirstRound, PolicyPrimaryEachRound:
	default:
		return fmt.Errorf("dialogue.model_policy %q invalid (expected %s or %s)",
			c.Dialogue.ModelPolicy, PolicyFallbackAfterFirstRound, PolicyPrimaryEachRound)
	}

	for _, model := range []string{c.Completion.PrimaryModel, c.Completion.FallbackModel} {
		provider := c.ProviderFor(model)
		switch provider {
		case ProviderOpenAI, ProviderAnthropic:
		default:
			return fmt.Errorf("model %q uses unknown provider %q", model, provider)
		}
		if !c.providerConfigured(provider) {
			return fmt.Errorf("%s API key is not set (model %q); set %s.api_key or the %s_API_KEY environment variable",
				provider, model, provider, strings.ToUpper(provider))
		}
	}
	return nil
}
