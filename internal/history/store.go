package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store holds per-conversation transcripts. Each conversation is trimmed to
// MaxMessages (oldest first) and entries older than TTL are excluded from
// reads. A background sweep deletes conversations idle past the TTL.
//
// Mutations for one conversation are serialized by a per-conversation lock;
// distinct conversations never contend with each other beyond the brief
// registry lookup.
type Store struct {
	maxMessages  int
	ttl          time.Duration
	cleanupEvery time.Duration

	mu    sync.RWMutex
	convs map[string]*conversation

	done chan struct{}
	once sync.Once
	now  func() time.Time
}

type conversation struct {
	mu         sync.Mutex
	msgs       []Message
	lastActive time.Time
}

// NewStore creates a transcript store. maxMessages bounds each transcript,
// ttl expires idle entries and conversations, cleanupEvery is the sweep cadence.
func NewStore(maxMessages int, ttl, cleanupEvery time.Duration) *Store {
	return &Store{
		maxMessages:  maxMessages,
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		convs:        make(map[string]*conversation),
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// AddMessage normalizes and appends a message to the conversation's
// transcript, trimming the oldest entries past the store's bound.
func (s *Store) AddMessage(conversationID string, in Incoming) error {
	msg, err := Normalize(in)
	if err != nil {
		return err
	}
	msg.Time = s.now()

	c := s.conversation(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgs = append(c.msgs, msg)
	if len(c.msgs) > s.maxMessages {
		c.msgs = c.msgs[len(c.msgs)-s.maxMessages:]
	}
	c.lastActive = msg.Time
	return nil
}

// History returns the most recent limit non-expired messages in
// chronological order. limit <= 0 means the store's maximum.
func (s *Store) History(conversationID string, limit int) []Message {
	s.mu.RLock()
	c, ok := s.convs[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = s.maxMessages
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	fresh := make([]Message, 0, len(c.msgs))
	for _, m := range c.msgs {
		if m.Time.After(cutoff) {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) > limit {
		fresh = fresh[len(fresh)-limit:]
	}
	return fresh
}

// Clear deletes a conversation's transcript.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	delete(s.convs, conversationID)
	s.mu.Unlock()
}

// Len returns the number of tracked conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Start launches the background sweep. It runs until ctx is done or Stop.
func (s *Store) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop terminates the background sweep.
func (s *Store) Stop() {
	s.once.Do(func() { close(s.done) })
}

// sweep removes conversations whose last activity is past the TTL.
func (s *Store) sweep() {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.convs {
		c.mu.Lock()
		idle := c.lastActive.Before(cutoff)
		c.mu.Unlock()
		if idle {
			delete(s.convs, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("history: swept idle conversations", "removed", removed, "remaining", len(s.convs))
	}
}

// conversation returns the entry for id, creating it if needed.
func (s *Store) conversation(id string) *conversation {
	s.mu.RLock()
	c, ok := s.convs[id]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.convs[id]; ok {
		return c
	}
	c = &conversation{lastActive: s.now()}
	s.convs[id] = c
	return c
}
