package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
// memory exhaustion from rotating source addresses.
const maxTrackedKeys = 4096

// keyedLimiter applies a per-key requests-per-minute limit to the webhook
// endpoint. Safe for concurrent use.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newKeyedLimiter creates a limiter allowing rpm requests per minute per key
// with the given burst. rpm <= 0 disables limiting.
func newKeyedLimiter(rpm, burst int) *keyedLimiter {
	if rpm <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &keyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether a request for key is within limits. A nil limiter
// allows everything.
func (k *keyedLimiter) Allow(key string) bool {
	if k == nil {
		return true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= maxTrackedKeys {
			// Hard eviction at cap; map iteration order is as good as FIFO here.
			for old := range k.limiters {
				delete(k.limiters, old)
				break
			}
		}
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	return l.Allow()
}
