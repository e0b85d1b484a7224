package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// responseCache memoizes backend responses by request fingerprint so a
// repeated prompt within the TTL costs no network call or retry budget.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	resp   Response
	expiry time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *responseCache) get(fp string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return Response{}, false
	}
	if c.now().After(e.expiry) {
		delete(c.entries, fp)
		return Response{}, false
	}
	return e.resp, true
}

func (c *responseCache) put(fp string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop expired entries on write so the map tracks live responses only.
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, k)
		}
	}
	c.entries[fp] = cacheEntry{resp: resp, expiry: now.Add(c.ttl)}
}

// fingerprint derives a stable cache key from the request fields that shape
// the backend's answer. JSON field order is fixed by the struct definition.
func fingerprint(req ChatRequest) string {
	key := struct {
		Model        string    `json:"model"`
		Messages     []Message `json:"messages"`
		Tools        []string  `json:"tools"`
		Context      string    `json:"context"`
		SystemPrompt string    `json:"systemPrompt"`
	}{req.Model, req.Messages, req.AllowedTools, req.Context, req.SystemPrompt}

	data, _ := json.Marshal(key)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cacheable reports whether a response may be memoized: replies produced with
// tool invocations or request-specific context are not reusable.
func cacheable(req ChatRequest, resp *Response) bool {
	return len(resp.ToolsUsed) == 0 && req.Context == ""
}
