package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StepType enumerates the kinds of sequence steps.
type StepType string

const (
	StepEmail     StepType = "email"
	StepWait      StepType = "wait"
	StepCondition StepType = "condition"
	StepTag       StepType = "tag"
)

// DelayUnit is the unit of a step delay. Unknown units are read as hours.
type DelayUnit string

const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

// SequenceStep is one unit of sequence behavior.
type SequenceStep struct {
	ID         string     `json:"id" db:"id"`
	SequenceID string     `json:"sequence_id" db:"sequence_id"`
	Name       string     `json:"name" db:"name"`
	StepOrder  int        `json:"step_order" db:"step_order"`
	StepType   StepType   `json:"step_type" db:"step_type"`
	DelayValue int        `json:"delay_value" db:"delay_value"`
	DelayUnit  DelayUnit  `json:"delay_unit" db:"delay_unit"`
	TemplateID *string    `json:"template_id" db:"template_id"`
	Subject    string     `json:"subject,omitempty" db:"subject"`
	Conditions Conditions `json:"conditions" db:"conditions"`
	Action     StepAction `json:"-" db:"action_config"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Normalize applies the inbound-configuration rules: negative delays become zero
// and units are lower-cased. Unknown units are kept; the scheduler reads them as hours.
func (s *SequenceStep) Normalize() {
	if s.DelayValue < 0 {
		s.DelayValue = 0
	}
	s.DelayUnit = DelayUnit(strings.ToLower(strings.TrimSpace(string(s.DelayUnit))))
	if s.Action == nil {
		s.Action = NoAction{}
	}
}

// HasTemplate reports whether the step references an email template.
func (s *SequenceStep) HasTemplate() bool {
	return s.TemplateID != nil && *s.TemplateID != ""
}

// Conditions is the predicate payload attached to a step. An empty expression
// is always satisfied.
type Conditions struct {
	Expr string `json:"expr,omitempty"`

	parseErr error
}

// IsEmpty reports whether there is nothing to evaluate.
func (c Conditions) IsEmpty() bool {
	return strings.TrimSpace(c.Expr) == "" && c.parseErr == nil
}

// Validate returns the error recorded when the payload was decoded.
func (c Conditions) Validate() error { return c.parseErr }

// ParseConditions decodes a raw conditions payload. A payload that cannot be
// decoded is returned with its error recorded so it surfaces at execution time.
func ParseConditions(raw []byte) (Conditions, error) {
	if isEmptyJSON(raw) {
		return Conditions{}, nil
	}
	var c Conditions
	if err := json.Unmarshal(raw, &c); err != nil {
		err = fmt.Errorf("conditions: %w", err)
		return Conditions{parseErr: err}, err
	}
	return c, nil
}

// StepAction is the type-specific action payload of a step.
type StepAction interface {
	Validate() error
	isStepAction()
}

// NoAction is the action of steps that carry no action config.
type NoAction struct{}

func (NoAction) Validate() error { return nil }
func (NoAction) isStepAction()   {}

// TagAction adds a tag to the enrolled subscriber.
type TagAction struct {
	Tag string `json:"tag"`
}

func (TagAction) Validate() error { return nil }
func (TagAction) isStepAction()   {}

// ParseStepAction decodes the raw action_config payload for a step type.
func ParseStepAction(t StepType, raw []byte) (StepAction, error) {
	switch t {
	case StepTag:
		if isEmptyJSON(raw) {
			return TagAction{}, nil
		}
		var a TagAction
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("tag action config: %w", err)
		}
		a.Tag = strings.TrimSpace(a.Tag)
		return a, nil
	case StepEmail, StepWait, StepCondition:
		if !isEmptyJSON(raw) && !json.Valid(raw) {
			return nil, fmt.Errorf("%s action config: invalid JSON", t)
		}
		return NoAction{}, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", t)
	}
}

// MarshalStepAction encodes a step action for storage.
func MarshalStepAction(a StepAction) ([]byte, error) {
	switch v := a.(type) {
	case nil, NoAction:
		return []byte("{}"), nil
	case InvalidConfig:
		return v.Raw, nil
	default:
		return json.Marshal(v)
	}
}
