// Package pacing computes human-plausible delivery delays for reply segments,
// so multi-part answers read like someone typing rather than a burst of API calls.
package pacing

import (
	"math/rand/v2"
	"time"
)

// Options configures a Pacer. All durations must be positive; Variation is a
// fraction in [0, 1).
type Options struct {
	TypingSpeed    float64       // characters per second
	MinDelay       time.Duration // lower clamp for every computed delay
	MaxDelay       time.Duration // upper clamp for every computed delay
	Variation      float64       // multiplicative jitter: [1-v, 1+v]
	ThinkingEnable bool          // add a thinking pause to unmeasured first segments
	ThinkingMin    time.Duration
	ThinkingMax    time.Duration
	ReasonableWait time.Duration // agent latency at which the user already waited enough
}

// Pacer computes per-segment delays. Safe for concurrent use.
type Pacer struct {
	opts Options
	rand func() float64 // uniform [0,1) source, replaceable in tests
}

// NewPacer creates a Pacer from options.
func NewPacer(opts Options) *Pacer {
	return &Pacer{opts: opts, rand: rand.Float64}
}

// Delay computes the pause before delivering one segment.
//
// Base is the time a human would need to type the text, jittered by the
// configured variation. For the first segment the agent's own processing time
// offsets the pause: once the backend took ReasonableWait or longer, the user
// already waited and the segment goes out immediately. agentProcessTime < 0
// means the caller did not measure it, in which case a random thinking pause
// is added instead.
func (p *Pacer) Delay(text string, first bool, agentProcessTime time.Duration) time.Duration {
	base := time.Duration(float64(len(text)) / p.opts.TypingSpeed * float64(time.Second))
	jitter := 1 - p.opts.Variation + p.rand()*2*p.opts.Variation
	delay := time.Duration(float64(base) * jitter)

	if first {
		switch {
		case agentProcessTime >= p.opts.ReasonableWait:
			return 0
		case agentProcessTime >= 0:
			if remaining := p.opts.ReasonableWait - agentProcessTime; delay > remaining {
				delay = remaining
			}
		case p.opts.ThinkingEnable:
			span := p.opts.ThinkingMax - p.opts.ThinkingMin
			delay += p.opts.ThinkingMin + time.Duration(p.rand()*float64(span))
		}
	}

	if delay < p.opts.MinDelay {
		delay = p.opts.MinDelay
	}
	if delay > p.opts.MaxDelay {
		delay = p.opts.MaxDelay
	}
	return delay
}

// Delays maps Delay over an ordered list of segments, treating only the
// first as the opening segment.
func (p *Pacer) Delays(segments []string, agentProcessTime time.Duration) []time.Duration {
	out := make([]time.Duration, len(segments))
	for i, seg := range segments {
		out[i] = p.Delay(seg, i == 0, agentProcessTime)
	}
	return out
}
