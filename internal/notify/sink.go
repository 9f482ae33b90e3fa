// Package notify delivers invitation notices recorded in the notification
// outbox. Delivery happens after the recording transaction commits and is
// fire-and-forget: a failed send is logged and marked, never retried, and
// never reported to whoever created the invitation.
package notify

import (
	"context"
	"log/slog"
)

// Sink sends one verification/invite message to a phone number.
type Sink interface {
	SendVerificationCode(ctx context.Context, phone, reason string) error
}

// LogSink writes messages to the log instead of sending them. Used in
// development when no SMS gateway queue is configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a LogSink writing to log.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) SendVerificationCode(ctx context.Context, phone, reason string) error {
	s.log.InfoContext(ctx, "sms notification",
		slog.String("phone", phone),
		slog.String("reason", reason),
	)
	return nil
}
