package mailing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
)

// Sender delivers a fully built message.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// LogSender logs messages instead of delivering them. It backs dry runs and
// environments without SES credentials.
type LogSender struct{}

// Send logs the message and reports success with a generated message id.
func (LogSender) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	id := "log-" + uuid.New().String()
	logger.Info("email not delivered (log sender)",
		"message_id", id, "email", msg.Email, "subject", msg.Subject, "subscriber_id", msg.SubscriberID)
	return &domain.SendResult{
		Success:   true,
		MessageID: id,
		ESPType:   domain.ESPLog,
		SentAt:    time.Now(),
	}, nil
}
