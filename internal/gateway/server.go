// Package gateway is the inbound HTTP surface: the chat platform's callback
// webhook and a status endpoint. The webhook always answers 200 so the
// platform never retry-storms on internal failures.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/dispatcher"
)

const maxBodyBytes = 64 * 1024

// Server hosts the webhook and status endpoints.
type Server struct {
	cfg     *config.Config
	msgBus  *bus.MessageBus
	stats   func() dispatcher.Stats
	limiter *keyedLimiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the gateway server.
func NewServer(cfg *config.Config, msgBus *bus.MessageBus, stats func() dispatcher.Stats) *Server {
	return &Server{
		cfg:     cfg,
		msgBus:  msgBus,
		stats:   stats,
		limiter: newKeyedLimiter(cfg.Gateway.RateLimitRPM, 5),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	path := s.cfg.Gateway.WebhookPath
	if path == "" {
		path = "/webhook"
	}
	mux.HandleFunc("POST "+path, s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleStatus)
	s.mux = mux
	return mux
}

// Start begins serving. Non-blocking after the listener is bound.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Gateway.Host, fmt.Sprintf("%d", s.cfg.Gateway.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway: server error", "error", err)
		}
	}()

	slog.Info("gateway: listening", "addr", addr)
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// webhookEvent is the platform's callback body.
type webhookEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ContactID      string `json:"contactId"`
	ContactName    string `json:"contactName"`
	MsgType        int    `json:"msgType"`
	Source         int    `json:"source"`
	IsSelf         bool   `json:"isSelf"`
	Timestamp      int64  `json:"timestamp"`
	Content        struct {
		Text string `json:"text"`
	} `json:"content"`
}

// handleWebhook accepts a callback event and acknowledges it unconditionally.
// Malformed, rate-limited, and overflowing events are dropped with a log
// line; the platform still sees success.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer writeSuccess(w)

	var event webhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&event); err != nil {
		slog.Warn("gateway: dropping malformed webhook body", "error", err)
		return
	}
	if event.MessageID == "" || event.ConversationID == "" {
		slog.Warn("gateway: dropping webhook event without identifiers",
			"message_id", event.MessageID, "conversation", event.ConversationID)
		return
	}

	if !s.limiter.Allow(event.ConversationID) {
		slog.Warn("gateway: rate limit exceeded, dropping event",
			"conversation", event.ConversationID)
		return
	}

	s.msgBus.PublishInbound(bus.InboundMessage{
		MessageID:      event.MessageID,
		ConversationID: event.ConversationID,
		ContactID:      event.ContactID,
		ContactName:    event.ContactName,
		Content:        event.Content.Text,
		MessageType:    event.MsgType,
		Source:         event.Source,
		IsSelf:         event.IsSelf,
		Timestamp:      event.Timestamp,
	})
}

// handleStatus reports pipeline counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"stats":  s.stats(),
	})
}

func writeSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}
