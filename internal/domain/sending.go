package domain

import "time"

// ESPType identifies the provider a message was dispatched through.
type ESPType string

const (
	ESPSES ESPType = "ses"
	ESPLog ESPType = "log"
)

// EmailMessage is the fully-resolved message ready for a sender.
// By the time a message reaches this struct, all variable substitution
// and header generation is complete.
type EmailMessage struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	SubscriberID string            `json:"subscriber_id"`
	Email        string            `json:"email"`
	FromName     string            `json:"from_name"`
	FromEmail    string            `json:"from_email"`
	ReplyTo      string            `json:"reply_to"`
	Subject      string            `json:"subject"`
	HTMLContent  string            `json:"html_content"`
	TextContent  string            `json:"text_content"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a sender after attempting delivery.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id"`
	ESPType   ESPType   `json:"esp_type"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}
