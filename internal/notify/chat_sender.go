package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChatSender delivers the chat channel by POSTing to the chat-messaging
// gateway (a WhatsApp-style provider reduced to an HTTP webhook).
type ChatSender struct {
	client *http.Client
	url    string
	token  string
	logger *zap.Logger
}

// ChatConfig configures the chat gateway sender.
type ChatConfig struct {
	GatewayURL string
	AuthToken  string
	Timeout    time.Duration
}

// chatMessage is the wire payload the gateway accepts.
type chatMessage struct {
	To        string `json:"to"`
	Name      string `json:"name,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	EventType string `json:"event_type"`
}

// chatResponse is the subset of the gateway's reply we care about.
type chatResponse struct {
	MessageID string `json:"message_id"`
}

// NewChatSender creates the chat gateway sender.
func NewChatSender(cfg ChatConfig, logger *zap.Logger) *ChatSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ChatSender{
		client: &http.Client{Timeout: timeout},
		url:    cfg.GatewayURL,
		token:  cfg.AuthToken,
		logger: logger,
	}
}

// Send posts the rendered message to the chat gateway.
func (s *ChatSender) Send(ctx context.Context, d Delivery) (Outcome, error) {
	if d.Contact.Phone == "" {
		return Outcome{}, fmt.Errorf("recipient has no chat address")
	}

	body, err := json.Marshal(chatMessage{
		To:        d.Contact.Phone,
		Name:      d.Contact.Name,
		Title:     d.Title,
		Body:      d.Message,
		EventType: string(d.EventType),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("chat gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, fmt.Errorf("chat gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	_ = json.Unmarshal(respBody, &parsed)

	s.logger.Info("chat message delivered",
		zap.String("to", d.Contact.Phone),
		zap.String("event_type", string(d.EventType)),
		zap.Int("status_code", resp.StatusCode),
	)

	return Outcome{Success: true, ExternalID: parsed.MessageID}, nil
}
