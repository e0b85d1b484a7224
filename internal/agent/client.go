package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	chatPath              = "/api/agent/chat"
	defaultRateLimitWait  = 60 * time.Second
	defaultCacheTTL       = 5 * time.Minute
	defaultRequestTimeout = 120 * time.Second
	correlationHeader     = "X-Request-Id"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/autoreply/internal/agent")

// Client talks to the AI backend.
type Client struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
	cache        *responseCache
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model sent when a request does not name one.
func WithModel(model string) Option {
	return func(c *Client) { c.defaultModel = model }
}

// WithAPIKey sets the bearer token for backend auth.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRetryConfig overrides the retry limits.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithCacheTTL overrides how long cacheable responses are kept.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cache = newResponseCache(ttl) }
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRequestTimeout},
		retry:   DefaultRetryConfig(),
		cache:   newResponseCache(defaultCacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chat sends a request to the backend, serving repeats from the response
// cache and retrying transient failures with exponential backoff.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}

	ctx, span := tracer.Start(ctx, "agent.chat", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.model", req.Model),
		attribute.Int("agent.messages", len(req.Messages)),
	)

	fp := fingerprint(req)
	if resp, ok := c.cache.get(fp); ok {
		span.SetAttributes(attribute.Bool("agent.cache_hit", true))
		resp.Cached = true
		resp.ProcessTime = 0
		return &resp, nil
	}

	start := time.Now()
	resp, err := RetryDo(ctx, c.retry, func() (*Response, error) {
		return c.doChat(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp.ProcessTime = time.Since(start)

	span.SetAttributes(
		attribute.Int("agent.tokens.input", resp.Usage.InputTokens),
		attribute.Int("agent.tokens.output", resp.Usage.OutputTokens),
		attribute.Int("agent.tools_used", len(resp.ToolsUsed)),
	)

	if cacheable(req, resp) {
		c.cache.put(fp, *resp)
	}
	return resp, nil
}

// doChat performs one HTTP attempt and classifies the outcome.
func (c *Client) doChat(ctx context.Context, req ChatRequest) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("agent: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, httpResp.Body)
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(httpResp)}

	case nonRetryableStatus(httpResp.StatusCode):
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return nil, &APIError{Status: httpResp.StatusCode, Message: strings.TrimSpace(string(msg))}

	case httpResp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("agent: backend status %d", httpResp.StatusCode)
	}

	var envelope chatEnvelope
	if err := json.NewDecoder(httpResp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("agent: decode response: %w", err)
	}

	correlationID := httpResp.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = envelope.Data.RequestID
	}

	if !envelope.Success {
		return nil, &APIError{Message: strings.TrimSpace(envelope.Error + " " + envelope.Details)}
	}

	resp := &Response{
		Reply:         extractReply(envelope.Data.Messages),
		Messages:      envelope.Data.Messages,
		Usage:         envelope.Data.Usage,
		ToolsUsed:     envelope.Data.Tools.Used,
		CorrelationID: correlationID,
	}

	slog.Debug("agent: chat completed",
		"correlation_id", correlationID,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"tools_used", len(resp.ToolsUsed),
	)
	return resp, nil
}

// extractReply joins the assistant turns of the backend's reply messages.
func extractReply(msgs []Message) string {
	var parts []string
	for _, m := range msgs {
		if m.Role == "assistant" && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// parseRetryAfter reads the backend's wait hint in seconds, defaulting to 60s.
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRateLimitWait
}
