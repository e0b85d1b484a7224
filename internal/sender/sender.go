// Package sender delivers reply text to the chat platform's send API.
// The API itself is an external collaborator; this is only the thin client
// honoring its contract.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender delivers one reply segment to a conversation.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

// Request is the send API's wire payload.
type Request struct {
	Token          string  `json:"token"`
	ConversationID string  `json:"conversationId"`
	MessageType    int     `json:"messageType"`
	Payload        Payload `json:"payload"`
}

// Payload carries the message body.
type Payload struct {
	Text string `json:"text"`
}

// Client is the HTTP implementation of Sender.
type Client struct {
	baseURL     string
	token       string
	messageType int
	client      *http.Client
}

// NewClient creates a send-API client.
func NewClient(baseURL, token string, messageType int) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		messageType: messageType,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts one text message to the conversation.
func (c *Client) Send(ctx context.Context, conversationID, text string) error {
	body, err := json.Marshal(Request{
		Token:          c.token,
		ConversationID: conversationID,
		MessageType:    c.messageType,
		Payload:        Payload{Text: text},
	})
	if err != nil {
		return fmt.Errorf("sender: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/messages/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sender: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sender: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sender: send API status %d", resp.StatusCode)
	}
	return nil
}
