package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventPayload is the structured part of a trigger event. Only the fields a
// trigger type understands are consulted when matching.
type EventPayload struct {
	FormID string         `json:"form_id,omitempty"`
	Tag    string         `json:"tag,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// TriggerEvent is an external event that may enroll a subscriber.
type TriggerEvent struct {
	OwnerID      string       `json:"owner_id"`
	TriggerType  TriggerType  `json:"trigger_type"`
	SubscriberID string       `json:"subscriber_id"`
	Payload      EventPayload `json:"payload"`
}

// Validate checks the fields every event must carry.
func (e TriggerEvent) Validate() error {
	if e.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if e.SubscriberID == "" {
		return fmt.Errorf("subscriber_id is required")
	}
	if !e.TriggerType.Valid() {
		return fmt.Errorf("unknown trigger_type %q", e.TriggerType)
	}
	return nil
}

// TriggerConfig is the per-sequence trigger configuration. The concrete type is
// chosen by the sequence's TriggerType when the config is parsed.
type TriggerConfig interface {
	// Matches reports whether an event payload satisfies this config.
	Matches(p EventPayload) bool
	// Validate returns the parse error for configs that could not be decoded.
	Validate() error
}

// EmptyTriggerConfig matches every event.
type EmptyTriggerConfig struct{}

func (EmptyTriggerConfig) Matches(EventPayload) bool { return true }
func (EmptyTriggerConfig) Validate() error          { return nil }

// FormSubmissionTrigger enrolls on submissions of one form.
type FormSubmissionTrigger struct {
	FormID string `json:"form_id"`
}

func (c FormSubmissionTrigger) Matches(p EventPayload) bool {
	if c.FormID == "" {
		return true
	}
	return c.FormID == p.FormID
}

func (FormSubmissionTrigger) Validate() error { return nil }

// TagAddedTrigger enrolls when one specific tag is added.
type TagAddedTrigger struct {
	Tag string `json:"tag"`
}

func (c TagAddedTrigger) Matches(p EventPayload) bool {
	if c.Tag == "" {
		return true
	}
	return c.Tag == p.Tag
}

func (TagAddedTrigger) Validate() error { return nil }

// OpaqueTriggerConfig keeps configuration for trigger types that do not
// interpret it yet. It always matches.
type OpaqueTriggerConfig struct {
	Raw json.RawMessage `json:"-"`
}

func (OpaqueTriggerConfig) Matches(EventPayload) bool { return true }
func (OpaqueTriggerConfig) Validate() error          { return nil }

// InvalidConfig stands in for a trigger or step payload that failed to parse.
// It never matches and reports the parse error from Validate.
type InvalidConfig struct {
	Raw json.RawMessage
	Err error
}

func (InvalidConfig) Matches(EventPayload) bool { return false }
func (c InvalidConfig) Validate() error         { return c.Err }
func (InvalidConfig) isStepAction()             {}

// ParseTriggerConfig decodes a raw trigger_config payload for the given trigger type.
func ParseTriggerConfig(t TriggerType, raw []byte) (TriggerConfig, error) {
	if isEmptyJSON(raw) {
		return EmptyTriggerConfig{}, nil
	}

	switch t {
	case TriggerFormSubmission:
		var c FormSubmissionTrigger
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("form_submission trigger config: %w", err)
		}
		return c, nil
	case TriggerTagAdded:
		var c TagAddedTrigger
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("tag_added trigger config: %w", err)
		}
		return c, nil
	case TriggerManual, TriggerSubscriberCreated:
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%s trigger config: invalid JSON", t)
		}
		return OpaqueTriggerConfig{Raw: append(json.RawMessage(nil), raw...)}, nil
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t)
	}
}

// MarshalTriggerConfig encodes a trigger config for storage.
func MarshalTriggerConfig(c TriggerConfig) ([]byte, error) {
	switch v := c.(type) {
	case nil, EmptyTriggerConfig:
		return []byte("{}"), nil
	case OpaqueTriggerConfig:
		return v.Raw, nil
	case InvalidConfig:
		return v.Raw, nil
	default:
		return json.Marshal(v)
	}
}

func isEmptyJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	if trimmed[0] != '{' {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return false
	}
	return len(m) == 0
}
