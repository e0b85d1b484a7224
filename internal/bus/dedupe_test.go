package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDedupeCache_FirstSeenIsNotDuplicate(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)

	if c.IsDuplicate("msg-1") {
		t.Error("first delivery reported as duplicate")
	}
	if !c.IsDuplicate("msg-1") {
		t.Error("second delivery not reported as duplicate")
	}
}

func TestDedupeCache_ExpiresAfterTTL(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)

	now := time.Now()
	c.now = func() time.Time { return now }
	if c.IsDuplicate("msg-1") {
		t.Fatal("first delivery reported as duplicate")
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if c.IsDuplicate("msg-1") {
		t.Error("delivery after TTL still reported as duplicate")
	}
}

func TestDedupeCache_BoundedSize(t *testing.T) {
	c := NewDedupeCache(time.Minute, 10)

	for i := 0; i < 50; i++ {
		c.IsDuplicate(fmt.Sprintf("msg-%d", i))
	}
	if got := c.Len(); got > 10 {
		t.Errorf("cache grew to %d entries, cap is 10", got)
	}
}

func TestDedupeCache_EvictsOldestAtCap(t *testing.T) {
	c := NewDedupeCache(time.Hour, 3)

	base := time.Now()
	now := base
	c.now = func() time.Time { return now }

	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		now = base.Add(time.Duration(i) * time.Second)
		c.IsDuplicate(id)
	}

	// Inserting m4 at cap must evict m1, the oldest unexpired entry.
	for _, id := range []string{"m2", "m3", "m4"} {
		if !c.IsDuplicate(id) {
			t.Errorf("recent id %s was evicted at cap", id)
		}
	}
	if c.IsDuplicate("m1") {
		t.Error("oldest id m1 survived eviction")
	}
}

func TestDedupeCache_ConcurrentSameKey(t *testing.T) {
	c := NewDedupeCache(time.Minute, 100)

	const workers = 16
	var wg sync.WaitGroup
	passed := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.IsDuplicate("same-id") {
				passed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(passed)

	count := 0
	for range passed {
		count++
	}
	if count != 1 {
		t.Errorf("%d goroutines passed the duplicate check, want exactly 1", count)
	}
}
