package bus

import (
	"strings"
	"sync"
	"time"
)

// InboundDebouncer merges rapid-fire messages from the same conversation into
// a single inbound message, so one reply run answers a burst of short texts.
//
// The first message for an idle conversation opens a batch and arms a flush
// timer. Later messages join the batch without extending the deadline, which
// bounds worst-case latency to one window. A batch that reaches maxBatch
// flushes immediately. Flushes for the same conversation never overlap: a new
// batch may form while a flush callback is still running, but its own flush
// waits for the previous one to finish.
type InboundDebouncer struct {
	window   time.Duration
	maxBatch int
	flush    InboundHandler

	mu      sync.Mutex
	batches map[string]*mergeBatch
	flights map[string]*flightLock
	stopped bool
	wg      sync.WaitGroup
}

type mergeBatch struct {
	msgs  []InboundMessage
	timer *time.Timer
}

// flightLock serializes flushes for one conversation. refs counts the flushes
// holding or waiting for it; the entry is removed from the registry at zero
// so idle conversations leave no residue.
type flightLock struct {
	sync.Mutex
	refs int
}

// NewInboundDebouncer creates a debouncer that calls flush with the merged
// message once per batch. maxBatch <= 0 disables the size trigger.
func NewInboundDebouncer(window time.Duration, maxBatch int, flush InboundHandler) *InboundDebouncer {
	return &InboundDebouncer{
		window:   window,
		maxBatch: maxBatch,
		flush:    flush,
		batches:  make(map[string]*mergeBatch),
		flights:  make(map[string]*flightLock),
	}
}

// Enqueue adds a message to its conversation's batch, creating one if the
// conversation is idle. Returns true when the message opened a new batch
// (the caller's admission permit travels with the batch in that case).
func (d *InboundDebouncer) Enqueue(msg InboundMessage) bool {
	conv := msg.ConversationID

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}

	b, ok := d.batches[conv]
	created := !ok
	if created {
		b = &mergeBatch{msgs: []InboundMessage{msg}}
		b.timer = time.AfterFunc(d.window, func() { d.fire(conv) })
		d.batches[conv] = b
	} else {
		b.msgs = append(b.msgs, msg)
	}

	full := d.maxBatch > 0 && len(b.msgs) >= d.maxBatch
	if full {
		b.timer.Stop()
	}
	d.mu.Unlock()

	if full {
		go d.fire(conv)
	}
	return created
}

// Stop cancels all pending flush timers and drops queued batches, then waits
// for in-flight flush callbacks to return. It reports how many batches were
// dropped unflushed so the caller can return their admission permits.
func (d *InboundDebouncer) Stop() int {
	d.mu.Lock()
	d.stopped = true
	dropped := 0
	for conv, b := range d.batches {
		b.timer.Stop()
		delete(d.batches, conv)
		dropped++
	}
	d.mu.Unlock()
	d.wg.Wait()
	return dropped
}

// fire takes ownership of the conversation's queued batch and runs the flush
// callback under the conversation's flight lock. Idempotent: the timer and
// the size trigger may both schedule it for the same batch.
func (d *InboundDebouncer) fire(conv string) {
	d.mu.Lock()
	b, ok := d.batches[conv]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.batches, conv)
	flight, ok := d.flights[conv]
	if !ok {
		flight = &flightLock{}
		d.flights[conv] = flight
	}
	flight.refs++
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	flight.Lock()
	d.flush(mergeMessages(b.msgs))
	flight.Unlock()

	d.mu.Lock()
	flight.refs--
	if flight.refs == 0 {
		delete(d.flights, conv)
	}
	d.mu.Unlock()
}

// mergeMessages joins a batch into one logical message. Identity fields come
// from the first message; texts are newline-joined in arrival order.
func mergeMessages(msgs []InboundMessage) InboundMessage {
	merged := msgs[0]
	if len(msgs) == 1 {
		return merged
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	merged.Content = strings.Join(parts, "\n")
	return merged
}
