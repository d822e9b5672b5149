package mailing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/sequence-engine/internal/domain"
)

// MailerConfig holds the fallbacks applied to every message.
type MailerConfig struct {
	DefaultFromName  string
	DefaultFromEmail string
}

// Mailer renders templates for a subscriber and dispatches them through a Sender.
type Mailer struct {
	templates *TemplateService
	sender    Sender
	cfg       MailerConfig
}

// NewMailer creates a Mailer. A nil templates uses a fresh TemplateService.
func NewMailer(templates *TemplateService, sender Sender, cfg MailerConfig) *Mailer {
	if templates == nil {
		templates = NewTemplateService()
	}
	return &Mailer{templates: templates, sender: sender, cfg: cfg}
}

// RenderAndSendEmail substitutes vars into the template's subject and bodies,
// then sends the result to sub. A non-empty subjectOverride is used instead of
// the template subject. Returns the provider message id.
func (m *Mailer) RenderAndSendEmail(ctx context.Context, sub *domain.Subscriber, tpl *domain.Template, vars map[string]string, subjectOverride string) (string, error) {
	msg, err := m.Build(sub, tpl, vars, subjectOverride)
	if err != nil {
		return "", err
	}

	res, err := m.sender.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("send to subscriber %s: %s", sub.ID, res.Error)
	}
	return res.MessageID, nil
}

// Build renders the message without sending it.
func (m *Mailer) Build(sub *domain.Subscriber, tpl *domain.Template, vars map[string]string, subjectOverride string) (*domain.EmailMessage, error) {
	if strings.TrimSpace(sub.Email) == "" {
		return nil, &MessageError{Reason: fmt.Sprintf("subscriber %s has no email address", sub.ID)}
	}

	subjectSrc := tpl.Subject
	if subjectOverride != "" {
		subjectSrc = subjectOverride
	}
	subject, err := m.templates.Substitute(subjectSrc, vars)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	htmlBody, err := m.templates.Substitute(tpl.HTMLContent, vars)
	if err != nil {
		return nil, fmt.Errorf("html body: %w", err)
	}
	textBody, err := m.templates.Substitute(tpl.TextContent, vars)
	if err != nil {
		return nil, fmt.Errorf("text body: %w", err)
	}
	if htmlBody == "" && textBody == "" {
		return nil, &MessageError{Reason: fmt.Sprintf("template %s has no content", tpl.ID)}
	}

	fromName, fromEmail := tpl.FromName, tpl.FromEmail
	if fromEmail == "" {
		fromEmail = m.cfg.DefaultFromEmail
	}
	if fromName == "" {
		fromName = m.cfg.DefaultFromName
	}
	if fromEmail == "" {
		return nil, &MessageError{Reason: fmt.Sprintf("template %s has no from address", tpl.ID)}
	}

	msg := &domain.EmailMessage{
		ID:           uuid.New().String(),
		OwnerID:      sub.OwnerID,
		SubscriberID: sub.ID,
		Email:        sub.Email,
		FromName:     fromName,
		FromEmail:    fromEmail,
		ReplyTo:      tpl.ReplyTo,
		Subject:      subject,
		HTMLContent:  htmlBody,
		TextContent:  textBody,
		Headers:      map[string]string{},
	}
	if u := vars["unsubscribe_url"]; u != "" {
		AddUnsubscribeHeaders(msg.Headers, u)
	}
	return msg, nil
}
