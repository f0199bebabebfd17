package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
	if errors.Is(err, ErrNoConfig) {
		t.Error("missing explicit path should not be reported as ErrNoConfig")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// Save and restore CWD to avoid finding a real config.yaml.
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("FindConfig(\"\") error = %v, want ErrNoConfig", err)
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TOOLCHAT_TEST_KEY", "sk-secret123")
	path := writeConfig(t, "openai:\n  api_key: ${TOOLCHAT_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-secret123" {
		t.Errorf("api_key = %q, want %q", cfg.OpenAI.APIKey, "sk-secret123")
	}
}

func TestLoad_EnvKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, "listen:\n  port: 9000\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want %q", cfg.OpenAI.APIKey, "sk-from-env")
	}
	if cfg.Listen.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Listen.Port)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Completion.PrimaryModel != "gpt-4" || cfg.Completion.FallbackModel != "gpt-3.5-turbo" {
		t.Errorf("models = %q/%q, want gpt-4/gpt-3.5-turbo",
			cfg.Completion.PrimaryModel, cfg.Completion.FallbackModel)
	}
	if cfg.Dialogue.MaxRounds != 10 {
		t.Errorf("max_rounds = %d, want 10", cfg.Dialogue.MaxRounds)
	}
	if cfg.Dialogue.ModelPolicy != PolicyFallbackAfterFirstRound {
		t.Errorf("model_policy = %q, want %q", cfg.Dialogue.ModelPolicy, PolicyFallbackAfterFirstRound)
	}
	if cfg.Dialogue.SessionIdle != time.Hour {
		t.Errorf("session_idle = %v, want 1h", cfg.Dialogue.SessionIdle)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, "dialogue:\n  budget: 45s\n  session_idle: 10m\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Dialogue.Budget != 45*time.Second {
		t.Errorf("budget = %v, want 45s", cfg.Dialogue.Budget)
	}
	if cfg.Dialogue.SessionIdle != 10*time.Minute {
		t.Errorf("session_idle = %v, want 10m", cfg.Dialogue.SessionIdle)
	}
}

func TestProviderFor(t *testing.T) {
	path := writeConfig(t, `
completion:
  provider: OpenAI
  primary_model: claude-sonnet-4-20250514
  models:
    - name: claude-sonnet-4-20250514
      provider: anthropic
    - name: local-model
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"local-model", ProviderOpenAI},
		{"gpt-3.5-turbo", ProviderOpenAI},
	}
	for _, tt := range tests {
		if got := cfg.ProviderFor(tt.model); got != tt.want {
			t.Errorf("ProviderFor(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.OpenAI.APIKey = "" },
			wantErr: "openai API key is not set",
		},
		{
			name: "fallback on unconfigured provider",
			mutate: func(c *Config) {
				c.Completion.Models = []ModelConfig{{Name: c.Completion.FallbackModel, Provider: ProviderAnthropic}}
			},
			wantErr: "anthropic API key is not set",
		},
		{
			name:    "bad policy",
			mutate:  func(c *Config) { c.Dialogue.ModelPolicy = "random" },
			wantErr: "model_policy",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "unknown log level",
		},
		{
			name:    "bad rounds",
			mutate:  func(c *Config) { c.Dialogue.MaxRounds = -1 },
			wantErr: "max_rounds",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Listen.Port = 70000 },
			wantErr: "listen.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			t.Setenv("ANTHROPIC_API_KEY", "")
			cfg := Default()
			cfg.OpenAI.APIKey = "sk-test"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
