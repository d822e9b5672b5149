package domain

import (
	"sort"
	"time"
)

// SequenceStatus enumerates the lifecycle states of a sequence.
type SequenceStatus string

const (
	SequenceDraft    SequenceStatus = "draft"
	SequenceActive   SequenceStatus = "active"
	SequencePaused   SequenceStatus = "paused"
	SequenceArchived SequenceStatus = "archived"
)

// TriggerType identifies the event that enrolls subscribers into a sequence.
type TriggerType string

const (
	TriggerManual            TriggerType = "manual"
	TriggerSubscriberCreated TriggerType = "subscriber_created"
	TriggerFormSubmission    TriggerType = "form_submission"
	TriggerTagAdded          TriggerType = "tag_added"
)

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerSubscriberCreated, TriggerFormSubmission, TriggerTagAdded:
		return true
	}
	return false
}

// Sequence is a tenant-owned drip sequence.
type Sequence struct {
	ID            string         `json:"id" db:"id"`
	OwnerID       string         `json:"owner_id" db:"owner_id"`
	Name          string         `json:"name" db:"name"`
	TriggerType   TriggerType    `json:"trigger_type" db:"trigger_type"`
	TriggerConfig TriggerConfig  `json:"-" db:"trigger_config"`
	Status        SequenceStatus `json:"status" db:"status"`
	Steps         []SequenceStep `json:"steps,omitempty"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// IsActive returns true if enrollments of this sequence may progress.
func (s *Sequence) IsActive() bool {
	return s.Status == SequenceActive
}

// SortSteps orders steps by StepOrder, keeping the relative order of equal entries.
func SortSteps(steps []SequenceStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})
}
