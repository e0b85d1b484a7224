// Package agent is the HTTP client for the external AI backend. It layers
// request fingerprint caching and retry with backoff over a plain REST call
// and classifies failures into the pipeline's error taxonomy.
package agent

import "time"

// Message is one turn in the backend chat payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the outbound request to the AI backend.
type ChatRequest struct {
	Model           string         `json:"model,omitempty"`
	Messages        []Message      `json:"messages"`
	SystemPrompt    string         `json:"systemPrompt,omitempty"`
	PromptType      string         `json:"promptType,omitempty"`
	AllowedTools    []string       `json:"allowedTools,omitempty"`
	Context         string         `json:"context,omitempty"`
	ToolContext     map[string]any `json:"toolContext,omitempty"`
	ContextStrategy string         `json:"contextStrategy,omitempty"`
	Prune           bool           `json:"prune,omitempty"`
	PruneOptions    map[string]any `json:"pruneOptions,omitempty"`
}

// Usage carries the backend's token accounting. Observability only.
type Usage struct {
	InputTokens       int `json:"inputTokens"`
	OutputTokens      int `json:"outputTokens"`
	TotalTokens       int `json:"totalTokens"`
	CachedInputTokens int `json:"cachedInputTokens,omitempty"`
}

// Response is the parsed result of a Chat call.
type Response struct {
	Reply         string    // assistant text, ready for segmentation
	Messages      []Message // raw reply messages from the backend
	Usage         Usage
	ToolsUsed     []string
	CorrelationID string
	Cached        bool          // served from the response cache
	ProcessTime   time.Duration // wall time of the backend call (0 when cached)
}

// chatEnvelope is the backend's wire response.
type chatEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	Data    struct {
		Messages []Message `json:"messages"`
		Usage    Usage     `json:"usage"`
		Tools    struct {
			Used []string `json:"used"`
		} `json:"tools"`
		RequestID string `json:"requestId,omitempty"`
	} `json:"data"`
}
