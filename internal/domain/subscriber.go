package domain

import (
	"strings"
	"time"
)

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberConfirmed    SubscriberStatus = "confirmed"
	SubscriberUnconfirmed  SubscriberStatus = "unconfirmed"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
)

// Subscriber is an email recipient owned by a tenant.
type Subscriber struct {
	ID           string           `json:"id" db:"id"`
	OwnerID      string           `json:"owner_id" db:"owner_id"`
	Email        string           `json:"email" db:"email"`
	FirstName    string           `json:"first_name" db:"first_name"`
	LastName     string           `json:"last_name" db:"last_name"`
	Status       SubscriberStatus `json:"status" db:"status"`
	Tags         []string         `json:"tags" db:"tags"`
	CustomFields map[string]any   `json:"custom_fields" db:"custom_fields"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// Suppressed reports whether the subscriber must not receive email.
func (s *Subscriber) Suppressed() bool {
	return s.Status == SubscriberUnsubscribed || s.Status == SubscriberBounced
}

// HasTag reports whether the subscriber carries tag.
func (s *Subscriber) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag if absent and reports whether the tag set changed.
func (s *Subscriber) AddTag(tag string) bool {
	if tag == "" || s.HasTag(tag) {
		return false
	}
	s.Tags = append(s.Tags, tag)
	return true
}

// FullName joins first and last name, skipping empty parts.
func (s *Subscriber) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}
