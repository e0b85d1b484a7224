// Package dispatcher orchestrates the reply pipeline: intake filtering,
// deduplication, admission control, merge batching, history, the AI backend
// call, pacing, and delivery.
package dispatcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/autoreply/internal/agent"
	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/history"
	"github.com/nextlevelbuilder/autoreply/internal/pacing"
	"github.com/nextlevelbuilder/autoreply/internal/scheduler"
	"github.com/nextlevelbuilder/autoreply/internal/sender"
	"github.com/nextlevelbuilder/autoreply/internal/store"
)

const (
	dedupeTTL = 20 * time.Minute
	dedupeMax = 5000
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/autoreply/internal/dispatcher")

// AgentClient is the AI backend seam.
type AgentClient interface {
	Chat(ctx context.Context, req agent.ChatRequest) (*agent.Response, error)
}

// Stats is a snapshot of pipeline counters for the status endpoint.
type Stats struct {
	Processed   int64 `json:"processed"`
	Duplicates  int64 `json:"duplicates"`
	RateLimited int64 `json:"rate_limited"`
	Failures    int64 `json:"failures"`
	ActiveJobs  int   `json:"active_jobs"`
}

// Dispatcher runs the message-ingestion-and-reply pipeline.
type Dispatcher struct {
	cfg         *config.Config
	msgBus      *bus.MessageBus
	dedupe      *bus.DedupeCache
	debouncer   *bus.InboundDebouncer // nil when merging is disabled
	governor    *scheduler.Governor
	transcripts *history.Store
	backend     AgentClient
	pacer       *pacing.Pacer
	log         store.MessageLog
	send        sender.Sender

	ctx  context.Context
	wait func(context.Context, time.Duration)

	processed   atomic.Int64
	duplicates  atomic.Int64
	rateLimited atomic.Int64
	failures    atomic.Int64
}

// Deps are the collaborators injected into a Dispatcher.
type Deps struct {
	Bus         *bus.MessageBus
	Transcripts *history.Store
	Backend     AgentClient
	Log         store.MessageLog
	Send        sender.Sender
}

// New creates a dispatcher from config and collaborators.
func New(cfg *config.Config, deps Deps) *Dispatcher {
	d := &Dispatcher{
		cfg:         cfg,
		msgBus:      deps.Bus,
		dedupe:      bus.NewDedupeCache(dedupeTTL, dedupeMax),
		governor:    scheduler.NewGovernor(cfg.Reply.MaxConcurrentJobs),
		transcripts: deps.Transcripts,
		backend:     deps.Backend,
		pacer: pacing.NewPacer(pacing.Options{
			TypingSpeed:    cfg.Pacing.TypingSpeedCPS,
			MinDelay:       time.Duration(cfg.Pacing.MinDelayMs) * time.Millisecond,
			MaxDelay:       time.Duration(cfg.Pacing.MaxDelayMs) * time.Millisecond,
			Variation:      cfg.Pacing.Variation,
			ThinkingEnable: cfg.Pacing.ThinkingEnabled,
			ThinkingMin:    time.Duration(cfg.Pacing.ThinkingMinMs) * time.Millisecond,
			ThinkingMax:    time.Duration(cfg.Pacing.ThinkingMaxMs) * time.Millisecond,
			ReasonableWait: time.Duration(cfg.Pacing.ReasonableWaitMs) * time.Millisecond,
		}),
		log:  deps.Log,
		send: deps.Send,
		wait: func(ctx context.Context, delay time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		},
	}
	if cfg.Reply.MergeEnabled {
		// The batch carries exactly one governor permit; the flush releases it.
		d.debouncer = bus.NewInboundDebouncer(cfg.Reply.MergeWindow(), cfg.Reply.MergeMaxMessages,
			func(merged bus.InboundMessage) {
				defer d.governor.Release()
				d.runReply(merged)
			})
	}
	return d
}

// Start launches the inbound and outbound loops. They run until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx = ctx
	go d.consumeInbound(ctx)
	go d.deliverOutbound(ctx)
}

// Stop cancels pending merge batches and returns the admission permit each
// dropped batch was carrying. In-flight reply runs finish on their own.
func (d *Dispatcher) Stop() {
	if d.debouncer == nil {
		return
	}
	for dropped := d.debouncer.Stop(); dropped > 0; dropped-- {
		d.governor.Release()
	}
}

// Stats returns a snapshot of pipeline counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed:   d.processed.Load(),
		Duplicates:  d.duplicates.Load(),
		RateLimited: d.rateLimited.Load(),
		Failures:    d.failures.Load(),
		ActiveJobs:  d.governor.Active(),
	}
}

func (d *Dispatcher) consumeInbound(ctx context.Context) {
	slog.Info("dispatcher: inbound consumer started")
	for {
		msg, ok := d.msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("dispatcher: inbound consumer stopped")
			return
		}
		d.HandleInbound(msg)
	}
}

// HandleInbound runs intake for one event. It never fails upward: every
// outcome is a drop, a merge enqueue, or an async reply run.
func (d *Dispatcher) HandleInbound(msg bus.InboundMessage) {
	if !d.cfg.Reply.Enabled {
		slog.Debug("dispatcher: reply generation disabled, dropping",
			"conversation", msg.ConversationID)
		return
	}

	if msg.IsSelf {
		return
	}
	if msg.MessageType != d.cfg.Reply.TextMessageType {
		slog.Debug("dispatcher: ignoring non-text message",
			"conversation", msg.ConversationID, "type", msg.MessageType)
		return
	}
	if !d.cfg.Reply.AcceptsSource(msg.Source) {
		slog.Debug("dispatcher: ignoring message from unaccepted source",
			"conversation", msg.ConversationID, "source", msg.Source)
		return
	}

	// Mark before any async branch so a near-simultaneous duplicate delivery
	// cannot race past the check.
	if d.dedupe.IsDuplicate(msg.MessageID) {
		d.duplicates.Add(1)
		slog.Debug("dispatcher: skipping duplicate message",
			"conversation", msg.ConversationID, "message_id", msg.MessageID)
		return
	}

	if !d.governor.TryAcquire() {
		d.rateLimited.Add(1)
		slog.Warn("dispatcher: at capacity, dropping message",
			"conversation", msg.ConversationID, "message_id", msg.MessageID,
			"active", d.governor.Active())
		return
	}

	if d.debouncer != nil {
		if !d.debouncer.Enqueue(msg) {
			// Joined an existing batch, which already holds a permit.
			d.governor.Release()
		}
		return
	}

	go func() {
		defer d.governor.Release()
		d.runReply(msg)
	}()
}

// runReply is the AI-reply sub-pipeline: history, backend call, pacing, send.
// Errors are logged with conversation and message identifiers and never
// propagate; a panic is contained the same way.
func (d *Dispatcher) runReply(msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			slog.Error("dispatcher: reply run panicked",
				"conversation", msg.ConversationID, "message_id", msg.MessageID, "panic", r)
		}
	}()

	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	runID := uuid.NewString()[:8]

	ctx, span := tracer.Start(ctx, "reply.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("reply.conversation_id", msg.ConversationID),
		attribute.String("reply.message_id", msg.MessageID),
	)

	if err := d.transcripts.AddMessage(msg.ConversationID, history.Incoming{
		Role:    history.RoleUser,
		Content: msg.Content,
	}); err != nil {
		slog.Warn("dispatcher: rejecting malformed message",
			"conversation", msg.ConversationID, "message_id", msg.MessageID, "error", err)
		return
	}
	d.appendLog(ctx, msg.ConversationID, msg.MessageID, history.RoleUser, msg.Content)

	req := agent.ChatRequest{
		Model:        d.cfg.Agent.Model,
		SystemPrompt: d.cfg.Agent.SystemPrompt,
		PromptType:   d.cfg.Agent.PromptType,
		Messages:     d.chatMessages(msg.ConversationID),
	}

	resp, err := d.backend.Chat(ctx, req)
	if err != nil {
		d.failures.Add(1)
		logBackendError(err, msg, runID)
		return
	}

	if resp.Reply == "" {
		slog.Info("dispatcher: suppressed empty reply",
			"conversation", msg.ConversationID, "run", runID,
			"correlation_id", resp.CorrelationID)
		return
	}

	if err := d.transcripts.AddMessage(msg.ConversationID, history.Incoming{
		Role:    history.RoleAssistant,
		Content: resp.Reply,
	}); err != nil {
		slog.Warn("dispatcher: could not record assistant reply",
			"conversation", msg.ConversationID, "run", runID, "error", err)
	}
	d.appendLog(ctx, msg.ConversationID, "", history.RoleAssistant, resp.Reply)

	segments := SplitSegments(resp.Reply)
	delays := d.pacer.Delays(segments, resp.ProcessTime)

	slog.Info("dispatcher: delivering reply",
		"conversation", msg.ConversationID, "run", runID,
		"segments", len(segments), "cached", resp.Cached,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens,
		"correlation_id", resp.CorrelationID)

	for i, seg := range segments {
		d.wait(ctx, delays[i])
		if ctx.Err() != nil {
			return
		}
		d.msgBus.PublishOutbound(bus.OutboundMessage{
			ConversationID: msg.ConversationID,
			Content:        seg,
		})
	}
	d.processed.Add(1)
}

// deliverOutbound hands paced segments to the send collaborator.
func (d *Dispatcher) deliverOutbound(ctx context.Context) {
	for {
		msg, ok := d.msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := d.send.Send(ctx, msg.ConversationID, msg.Content); err != nil {
			slog.Error("dispatcher: send failed",
				"conversation", msg.ConversationID, "error", err)
		}
	}
}

// chatMessages maps the transcript into the backend's message shape.
func (d *Dispatcher) chatMessages(conversationID string) []agent.Message {
	hist := d.transcripts.History(conversationID, 0)
	msgs := make([]agent.Message, 0, len(hist))
	for _, m := range hist {
		msgs = append(msgs, agent.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func (d *Dispatcher) appendLog(ctx context.Context, conversationID, messageID, role, content string) {
	if d.log == nil {
		return
	}
	err := d.log.Append(ctx, store.Entry{
		ConversationID: conversationID,
		MessageID:      messageID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		slog.Warn("dispatcher: message log append failed",
			"conversation", conversationID, "error", err)
	}
}

func logBackendError(err error, msg bus.InboundMessage, runID string) {
	switch e := err.(type) {
	case *agent.RateLimitError:
		slog.Warn("dispatcher: backend rate limited, skipping reply",
			"conversation", msg.ConversationID, "message_id", msg.MessageID,
			"run", runID, "retry_after", e.RetryAfter)
	case *agent.APIError:
		slog.Warn("dispatcher: backend rejected request, skipping reply",
			"conversation", msg.ConversationID, "message_id", msg.MessageID,
			"run", runID, "status", e.Status, "error", e.Message)
	default:
		slog.Error("dispatcher: backend call failed, skipping reply",
			"conversation", msg.ConversationID, "message_id", msg.MessageID,
			"run", runID, "error", err)
	}
}
