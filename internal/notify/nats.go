package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSSender publishes notifications as JSON messages on per-user subjects.
// Publish is fire-and-forget: there is no delivery guarantee beyond the
// broker accepting the message.
type NATSSender struct {
	nc *nats.Conn
}

// NewNATSSender connects to the broker at url.
func NewNATSSender(url string) (*NATSSender, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSender{nc: nc}, nil
}

type natsMessage struct {
	UserID  string            `json:"user_id"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

func (s *NATSSender) Send(ctx context.Context, userID, title, message string, data map[string]string) error {
	payload, err := json.Marshal(natsMessage{
		UserID:  userID,
		Title:   title,
		Message: message,
		Data:    data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := s.nc.Publish("notify.user."+userID, payload); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSender) Close() {
	s.nc.Close()
}

// LogSender writes notifications to the log. Used when no broker is
// configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender logging at info level.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, userID, title, message string, data map[string]string) error {
	s.logger.Info("notification",
		"user_id", userID,
		"title", title,
		"message", message,
	)
	return nil
}

// MemorySender records sent notifications for tests.
type MemorySender struct {
	Sent []SentMessage
	// Err, when set, is returned from every Send call.
	Err error
}

// SentMessage is one captured Send call.
type SentMessage struct {
	UserID  string
	Title   string
	Message string
	Data    map[string]string
}

func (s *MemorySender) Send(ctx context.Context, userID, title, message string, data map[string]string) error {
	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, SentMessage{UserID: userID, Title: title, Message: message, Data: data})
	return nil
}
