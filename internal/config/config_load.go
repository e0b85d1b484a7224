package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults. A config file overlays
// onto these, so absent keys keep their default values.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:        "0.0.0.0",
			Port:        18820,
			WebhookPath: "/webhook",
			QueueSize:   256,
		},
		Reply: ReplyConfig{
			Enabled:           true,
			MergeEnabled:      true,
			MergeWindowMs:     4000,
			MergeMaxMessages:  5,
			MaxConcurrentJobs: 50,
			AcceptedSources:   []int{1},
			TextMessageType:   7,
		},
		History: HistoryConfig{
			MaxMessages:       20,
			ConversationTTLMs: 30 * 60 * 1000,
			CleanupIntervalMs: 5 * 60 * 1000,
		},
		Agent: AgentConfig{
			TimeoutMs:        120000,
			MaxRetries:       3,
			RetryBaseDelayMs: 1000,
			CacheTTLMs:       5 * 60 * 1000,
		},
		Pacing: PacingConfig{
			TypingSpeedCPS:   35,
			MinDelayMs:       800,
			MaxDelayMs:       8000,
			Variation:        0.2,
			ThinkingEnabled:  true,
			ThinkingMinMs:    1000,
			ThinkingMaxMs:    3000,
			ReasonableWaitMs: 3000,
		},
		Sender: SenderConfig{
			MessageType: 1,
		},
		Store: StoreConfig{
			SQLitePath: "autoreply.db",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Secrets come from env
// only; env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AUTOREPLY_AGENT_API_KEY", &c.Agent.APIKey)
	envStr("AUTOREPLY_AGENT_BASE_URL", &c.Agent.BaseURL)
	envStr("AUTOREPLY_SEND_TOKEN", &c.Sender.Token)
	envStr("AUTOREPLY_SEND_BASE_URL", &c.Sender.BaseURL)
	envStr("AUTOREPLY_POSTGRES_DSN", &c.Store.PostgresDSN)
	envStr("AUTOREPLY_SQLITE_PATH", &c.Store.SQLitePath)

	if v := os.Getenv("AUTOREPLY_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}

	if v := os.Getenv("AUTOREPLY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
}
