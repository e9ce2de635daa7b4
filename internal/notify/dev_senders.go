package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NoopSender stands in for an external channel that has no provider
// wired. It always fails with ErrNotConfigured so callers can tell
// "provider said no" apart from "no provider configured".
type NoopSender struct {
	channel Channel
}

// NewNoopSender creates a sender for an unconfigured channel.
func NewNoopSender(channel Channel) *NoopSender {
	return &NoopSender{channel: channel}
}

// Send always reports the well-defined not-configured failure.
func (s *NoopSender) Send(ctx context.Context, d Delivery) (Outcome, error) {
	return Outcome{}, fmt.Errorf("%w: %s", ErrNotConfigured, s.channel)
}

// LogSender logs deliveries instead of sending them (development mode).
type LogSender struct {
	channel Channel
	logger  *zap.Logger
}

// NewLogSender creates a development sender for the given channel.
func NewLogSender(channel Channel, logger *zap.Logger) *LogSender {
	return &LogSender{channel: channel, logger: logger}
}

// Send logs the delivery and reports success.
func (s *LogSender) Send(ctx context.Context, d Delivery) (Outcome, error) {
	s.logger.Info("delivery logged (development mode)",
		zap.String("channel", string(s.channel)),
		zap.String("event_type", string(d.EventType)),
		zap.String("recipient_id", d.RecipientID.String()),
		zap.String("title", d.Title),
	)
	return Outcome{Success: true}, nil
}
