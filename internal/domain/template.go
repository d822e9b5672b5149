package domain

import "time"

// Template is a stored email template. Variables are template-defined values
// that override the engine's standard substitution variables.
type Template struct {
	ID          string            `json:"id" db:"id"`
	OwnerID     string            `json:"owner_id" db:"owner_id"`
	Name        string            `json:"name" db:"name"`
	Subject     string            `json:"subject" db:"subject"`
	HTMLContent string            `json:"html_content" db:"html_content"`
	TextContent string            `json:"text_content" db:"text_content"`
	FromName    string            `json:"from_name" db:"from_name"`
	FromEmail   string            `json:"from_email" db:"from_email"`
	ReplyTo     string            `json:"reply_to" db:"reply_to"`
	Variables   map[string]string `json:"variables" db:"variables"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}
