// Package config defines the service configuration: JSON5 file, env
// overrides for secrets, and startup validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the autoreply service.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Reply     ReplyConfig     `json:"reply"`
	History   HistoryConfig   `json:"history"`
	Agent     AgentConfig     `json:"agent"`
	Pacing    PacingConfig    `json:"pacing"`
	Sender    SenderConfig    `json:"sender"`
	Store     StoreConfig     `json:"store,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig configures the webhook HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	WebhookPath  string `json:"webhook_path,omitempty"`   // default "/webhook"
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // per-source; 0 = disabled
	QueueSize    int    `json:"queue_size,omitempty"`     // inbound/outbound bus capacity
}

// ReplyConfig gates and shapes the reply pipeline.
type ReplyConfig struct {
	Enabled           bool  `json:"enabled"`
	MergeEnabled      bool  `json:"merge_enabled"`
	MergeWindowMs     int   `json:"merge_window_ms,omitempty"`     // first-message flush deadline
	MergeMaxMessages  int   `json:"merge_max_messages,omitempty"`  // batch size forcing immediate flush
	MaxConcurrentJobs int   `json:"max_concurrent_jobs,omitempty"` // governor ceiling
	AcceptedSources   []int `json:"accepted_sources,omitempty"`    // platform source codes we reply to
	TextMessageType   int   `json:"text_message_type,omitempty"`   // platform code for plain text
}

// AcceptsSource reports whether a platform source classification code is
// eligible for AI replies. The codes are opaque platform constants.
func (r ReplyConfig) AcceptsSource(code int) bool {
	for _, s := range r.AcceptedSources {
		if s == code {
			return true
		}
	}
	return false
}

// MergeWindow returns the merge window as a duration.
func (r ReplyConfig) MergeWindow() time.Duration {
	return time.Duration(r.MergeWindowMs) * time.Millisecond
}

// HistoryConfig bounds the per-conversation transcripts.
type HistoryConfig struct {
	MaxMessages       int `json:"max_messages,omitempty"`
	ConversationTTLMs int `json:"conversation_ttl_ms,omitempty"`
	CleanupIntervalMs int `json:"cleanup_interval_ms,omitempty"`
}

func (h HistoryConfig) ConversationTTL() time.Duration {
	return time.Duration(h.ConversationTTLMs) * time.Millisecond
}

func (h HistoryConfig) CleanupInterval() time.Duration {
	return time.Duration(h.CleanupIntervalMs) * time.Millisecond
}

// AgentConfig configures the AI backend client.
// APIKey is NEVER read from the config file — env AUTOREPLY_AGENT_API_KEY only.
type AgentConfig struct {
	BaseURL          string `json:"base_url"`
	APIKey           string `json:"-"`
	Model            string `json:"model,omitempty"`
	SystemPrompt     string `json:"system_prompt,omitempty"`
	PromptType       string `json:"prompt_type,omitempty"`
	TimeoutMs        int    `json:"timeout_ms,omitempty"`
	MaxRetries       int    `json:"max_retries,omitempty"`
	RetryBaseDelayMs int    `json:"retry_base_delay_ms,omitempty"`
	CacheTTLMs       int    `json:"cache_ttl_ms,omitempty"`
}

func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

func (a AgentConfig) RetryBaseDelay() time.Duration {
	return time.Duration(a.RetryBaseDelayMs) * time.Millisecond
}

func (a AgentConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLMs) * time.Millisecond
}

// PacingConfig shapes the human-pacing delays for reply segments.
type PacingConfig struct {
	TypingSpeedCPS   float64 `json:"typing_speed_cps,omitempty"`
	MinDelayMs       int     `json:"min_delay_ms,omitempty"`
	MaxDelayMs       int     `json:"max_delay_ms,omitempty"`
	Variation        float64 `json:"variation,omitempty"` // jitter fraction
	ThinkingEnabled  bool    `json:"thinking_enabled"`
	ThinkingMinMs    int     `json:"thinking_min_ms,omitempty"`
	ThinkingMaxMs    int     `json:"thinking_max_ms,omitempty"`
	ReasonableWaitMs int     `json:"reasonable_wait_ms,omitempty"`
}

// SenderConfig configures the outbound send-API client.
// Token is NEVER read from the config file — env AUTOREPLY_SEND_TOKEN only.
type SenderConfig struct {
	BaseURL     string `json:"base_url"`
	Token       string `json:"-"`
	MessageType int    `json:"message_type,omitempty"`
}

// StoreConfig selects the message log backend. SQLite is the default;
// setting AUTOREPLY_POSTGRES_DSN switches to Postgres.
type StoreConfig struct {
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // OTLP HTTP endpoint, e.g. "localhost:4318"
}

// ConfigError reports a setting that would leave pipeline timing or limits
// undefined. Startup must refuse to proceed on one.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// Validate checks every timing and limit setting the pipeline depends on.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return &ConfigError{Field: "gateway.port", Reason: "must be in 1..65535"}
	}
	if c.Reply.MergeEnabled && c.Reply.MergeWindowMs <= 0 {
		return &ConfigError{Field: "reply.merge_window_ms", Reason: "must be positive when merging is enabled"}
	}
	if c.Reply.MaxConcurrentJobs <= 0 {
		return &ConfigError{Field: "reply.max_concurrent_jobs", Reason: "must be positive"}
	}
	if c.Reply.TextMessageType <= 0 {
		return &ConfigError{Field: "reply.text_message_type", Reason: "must be positive"}
	}
	if c.History.MaxMessages <= 0 {
		return &ConfigError{Field: "history.max_messages", Reason: "must be positive"}
	}
	if c.History.ConversationTTLMs <= 0 {
		return &ConfigError{Field: "history.conversation_ttl_ms", Reason: "must be positive"}
	}
	if c.History.CleanupIntervalMs <= 0 {
		return &ConfigError{Field: "history.cleanup_interval_ms", Reason: "must be positive"}
	}
	if c.Agent.BaseURL == "" {
		return &ConfigError{Field: "agent.base_url", Reason: "is required"}
	}
	if c.Agent.MaxRetries <= 0 {
		return &ConfigError{Field: "agent.max_retries", Reason: "must be positive"}
	}
	if c.Agent.RetryBaseDelayMs <= 0 {
		return &ConfigError{Field: "agent.retry_base_delay_ms", Reason: "must be positive"}
	}
	if c.Pacing.TypingSpeedCPS <= 0 {
		return &ConfigError{Field: "pacing.typing_speed_cps", Reason: "must be positive"}
	}
	if c.Pacing.MinDelayMs < 0 || c.Pacing.MaxDelayMs < c.Pacing.MinDelayMs {
		return &ConfigError{Field: "pacing.max_delay_ms", Reason: "must be >= pacing.min_delay_ms"}
	}
	if c.Pacing.Variation < 0 || c.Pacing.Variation >= 1 {
		return &ConfigError{Field: "pacing.variation", Reason: "must be in [0, 1)"}
	}
	if c.Pacing.ThinkingMaxMs < c.Pacing.ThinkingMinMs {
		return &ConfigError{Field: "pacing.thinking_max_ms", Reason: "must be >= pacing.thinking_min_ms"}
	}
	if c.Pacing.ReasonableWaitMs <= 0 {
		return &ConfigError{Field: "pacing.reasonable_wait_ms", Reason: "must be positive"}
	}
	if c.Sender.BaseURL == "" {
		return &ConfigError{Field: "sender.base_url", Reason: "is required"}
	}
	return nil
}
