package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func okEnvelope(reply string, tools ...string) string {
	env := map[string]any{
		"success": true,
		"data": map[string]any{
			"messages": []map[string]string{
				{"role": "assistant", "content": reply},
			},
			"usage":     map[string]int{"inputTokens": 10, "outputTokens": 5, "totalTokens": 15},
			"tools":     map[string]any{"used": tools},
			"requestId": "req-123",
		},
	}
	b, _ := json.Marshal(env)
	return string(b)
}

func testRequest() ChatRequest {
	return ChatRequest{
		Model:    "claude-sonnet",
		Messages: []Message{{Role: "user", Content: "hello"}},
	}
}

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatPath {
			t.Errorf("path = %q, want %q", r.URL.Path, chatPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "claude-sonnet" {
			t.Errorf("model = %q", req.Model)
		}
		w.Header().Set(correlationHeader, "corr-1")
		fmt.Fprint(w, okEnvelope("hi there"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAPIKey("sekrit"))
	resp, err := c.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Reply != "hi there" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if resp.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q, want header value", resp.CorrelationID)
	}
	if resp.Cached {
		t.Error("fresh response marked cached")
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestChat_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, okEnvelope("third time lucky"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(RetryConfig{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}))
	start := time.Now()
	resp, err := c.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Reply != "third time lucky" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("backend called %d times, want 3", n)
	}
	// Backoff doubles per attempt: 50ms after the first failure, 100ms after
	// the second.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("retries took %v, want at least 150ms of exponential backoff", elapsed)
	}
}

func TestChat_TransientFailureExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}))
	_, err := c.Chat(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestChat_AuthFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	_, err := c.Chat(context.Background(), testRequest())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("backend called %d times, want exactly 1", n)
	}
}

func TestChat_RateLimitWaitsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, okEnvelope("past the limit"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}))
	start := time.Now()
	resp, err := c.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Reply != "past the limit" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("retried after %v, want at least the 1s Retry-After hint", elapsed)
	}
}

func TestChat_EnvelopeFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"success": false, "error": "model overloaded", "details": "try later"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetryConfig(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	_, err := c.Chat(context.Background(), testRequest())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
}

func TestChat_CachesIdenticalRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, okEnvelope("cached answer"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	first, err := c.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("first Chat: %v", err)
	}
	second, err := c.Chat(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("second Chat: %v", err)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("backend called %d times, want 1 with a cache hit", n)
	}
	if first.Cached {
		t.Error("first response marked cached")
	}
	if !second.Cached {
		t.Error("second response not marked cached")
	}
	if second.Reply != "cached answer" {
		t.Errorf("cached reply = %q", second.Reply)
	}
	if second.ProcessTime != 0 {
		t.Errorf("cached ProcessTime = %v, want 0", second.ProcessTime)
	}
}

func TestChat_ToolUseDisablesCaching(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, okEnvelope("looked it up", "web_search"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for i := 0; i < 2; i++ {
		if _, err := c.Chat(context.Background(), testRequest()); err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("backend called %d times, want 2 when tools were used", n)
	}
}

func TestChat_ContextDisablesCaching(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, okEnvelope("contextual"))
	}))
	defer srv.Close()

	req := testRequest()
	req.Context = "order #42 is delayed"

	c := NewClient(srv.URL)
	for i := 0; i < 2; i++ {
		if _, err := c.Chat(context.Background(), req); err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("backend called %d times, want 2 when request carries context", n)
	}
}

func TestChat_DefaultModelApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "fallback-model" {
			t.Errorf("model = %q, want default applied", req.Model)
		}
		fmt.Fprint(w, okEnvelope("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithModel("fallback-model"))
	req := testRequest()
	req.Model = ""
	if _, err := c.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := fingerprint(testRequest())
	b := fingerprint(testRequest())
	if a != b {
		t.Error("identical requests produced different fingerprints")
	}

	other := testRequest()
	other.Messages = append(other.Messages, Message{Role: "user", Content: "more"})
	if fingerprint(other) == a {
		t.Error("different requests produced the same fingerprint")
	}
}

func TestExtractReply_JoinsAssistantTurns(t *testing.T) {
	msgs := []Message{
		{Role: "assistant", Content: "first"},
		{Role: "tool", Content: "ignored"},
		{Role: "assistant", Content: "second"},
		{Role: "assistant", Content: ""},
	}
	if got := extractReply(msgs); got != "first\n\nsecond" {
		t.Errorf("reply = %q", got)
	}
}
