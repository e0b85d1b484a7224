package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Agent.BaseURL = "http://localhost:3000"
	cfg.Sender.BaseURL = "http://localhost:4000"
	return cfg
}

func TestValidate_DefaultsWithRequiredURLs(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestValidate_RejectsBrokenSettings(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"zero port", func(c *Config) { c.Gateway.Port = 0 }, "gateway.port"},
		{"port too high", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"merge window missing", func(c *Config) { c.Reply.MergeWindowMs = 0 }, "reply.merge_window_ms"},
		{"no concurrency", func(c *Config) { c.Reply.MaxConcurrentJobs = 0 }, "reply.max_concurrent_jobs"},
		{"no text type", func(c *Config) { c.Reply.TextMessageType = 0 }, "reply.text_message_type"},
		{"history unbounded", func(c *Config) { c.History.MaxMessages = 0 }, "history.max_messages"},
		{"history no ttl", func(c *Config) { c.History.ConversationTTLMs = 0 }, "history.conversation_ttl_ms"},
		{"history no sweep", func(c *Config) { c.History.CleanupIntervalMs = 0 }, "history.cleanup_interval_ms"},
		{"agent url missing", func(c *Config) { c.Agent.BaseURL = "" }, "agent.base_url"},
		{"no retries", func(c *Config) { c.Agent.MaxRetries = 0 }, "agent.max_retries"},
		{"no backoff base", func(c *Config) { c.Agent.RetryBaseDelayMs = 0 }, "agent.retry_base_delay_ms"},
		{"zero typing speed", func(c *Config) { c.Pacing.TypingSpeedCPS = 0 }, "pacing.typing_speed_cps"},
		{"max below min delay", func(c *Config) { c.Pacing.MaxDelayMs = 100; c.Pacing.MinDelayMs = 200 }, "pacing.max_delay_ms"},
		{"variation out of range", func(c *Config) { c.Pacing.Variation = 1.0 }, "pacing.variation"},
		{"thinking range inverted", func(c *Config) { c.Pacing.ThinkingMinMs = 5000; c.Pacing.ThinkingMaxMs = 1000 }, "pacing.thinking_max_ms"},
		{"no reasonable wait", func(c *Config) { c.Pacing.ReasonableWaitMs = 0 }, "pacing.reasonable_wait_ms"},
		{"sender url missing", func(c *Config) { c.Sender.BaseURL = "" }, "sender.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestValidate_MergeWindowIgnoredWhenMergingDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Reply.MergeEnabled = false
	cfg.Reply.MergeWindowMs = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil with merging disabled", err)
	}
}

func TestAcceptsSource(t *testing.T) {
	r := ReplyConfig{AcceptedSources: []int{1, 3}}
	for code, want := range map[int]bool{1: true, 3: true, 2: false, 0: false} {
		if got := r.AcceptsSource(code); got != want {
			t.Errorf("AcceptsSource(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18820 {
		t.Errorf("port = %d, want default", cfg.Gateway.Port)
	}
	if !cfg.Reply.MergeEnabled || cfg.Reply.MergeWindowMs != 4000 {
		t.Errorf("merge defaults = %+v", cfg.Reply)
	}
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// JSON5: comments and trailing commas are accepted.
	body := `{
		// local overrides
		gateway: { port: 9000 },
		reply: { merge_window_ms: 1500, },
		agent: { base_url: "http://agent.internal" },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("port = %d, want file value", cfg.Gateway.Port)
	}
	if cfg.Reply.MergeWindowMs != 1500 {
		t.Errorf("merge window = %d, want file value", cfg.Reply.MergeWindowMs)
	}
	if cfg.Agent.BaseURL != "http://agent.internal" {
		t.Errorf("agent base url = %q", cfg.Agent.BaseURL)
	}
	// Untouched sections keep their defaults.
	if cfg.Pacing.TypingSpeedCPS != 35 {
		t.Errorf("typing speed = %v, want default", cfg.Pacing.TypingSpeedCPS)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{{not valid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a malformed file")
	}
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("AUTOREPLY_AGENT_API_KEY", "env-key")
	t.Setenv("AUTOREPLY_AGENT_BASE_URL", "http://env.agent")
	t.Setenv("AUTOREPLY_SEND_TOKEN", "env-token")
	t.Setenv("AUTOREPLY_PORT", "8123")

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{ gateway: { port: 9000 }, agent: { base_url: "http://file.agent" } }`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.APIKey != "env-key" {
		t.Errorf("api key = %q, want env value", cfg.Agent.APIKey)
	}
	if cfg.Agent.BaseURL != "http://env.agent" {
		t.Errorf("agent base url = %q, env must beat the file", cfg.Agent.BaseURL)
	}
	if cfg.Sender.Token != "env-token" {
		t.Errorf("send token = %q", cfg.Sender.Token)
	}
	if cfg.Gateway.Port != 8123 {
		t.Errorf("port = %d, want env value", cfg.Gateway.Port)
	}
}

func TestSecretsNeverSerialized(t *testing.T) {
	cfg := validConfig()
	cfg.Agent.APIKey = "topsecret"
	cfg.Sender.Token = "alsosecret"
	cfg.Store.PostgresDSN = "postgres://user:pw@host/db"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, secret := range []string{"topsecret", "alsosecret", "user:pw"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("marshaled config leaks %q", secret)
		}
	}
}
