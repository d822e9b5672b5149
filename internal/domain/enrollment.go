package domain

import "time"

// EnrollmentStatus enumerates the states of a subscriber's journey through a sequence.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// SequenceEnrollment is one subscriber's progress through one sequence.
// A nil CurrentStepID means no step has run yet; a nil NextStepAt means the
// enrollment is due immediately. FailureCount and LastError describe the
// current run of failed passes and reset once a step succeeds.
type SequenceEnrollment struct {
	ID            string           `json:"id" db:"id"`
	SequenceID    string           `json:"sequence_id" db:"sequence_id"`
	SubscriberID  string           `json:"subscriber_id" db:"subscriber_id"`
	CurrentStepID *string          `json:"current_step_id" db:"current_step_id"`
	Status        EnrollmentStatus `json:"status" db:"status"`
	EnrolledAt    time.Time        `json:"enrolled_at" db:"enrolled_at"`
	CompletedAt   *time.Time       `json:"completed_at" db:"completed_at"`
	CancelledAt   *time.Time       `json:"cancelled_at" db:"cancelled_at"`
	NextStepAt    *time.Time       `json:"next_step_at" db:"next_step_at"`
	Metadata      map[string]any   `json:"metadata" db:"metadata"`
	Version       int64            `json:"version" db:"version"`
	FailureCount  int              `json:"failure_count" db:"failure_count"`
	LastError     string           `json:"last_error,omitempty" db:"last_error"`
}

// IsActive returns true if the enrollment may still progress.
func (e *SequenceEnrollment) IsActive() bool {
	return e.Status == EnrollmentActive
}

// IsDue reports whether the enrollment should be processed at now.
func (e *SequenceEnrollment) IsDue(now time.Time) bool {
	return e.NextStepAt == nil || !e.NextStepAt.After(now)
}

// StepLogStatus is the outcome recorded for one executed step.
type StepLogStatus string

const (
	StepLogSent               StepLogStatus = "sent"
	StepLogWaitScheduled      StepLogStatus = "wait_scheduled"
	StepLogConditionEvaluated StepLogStatus = "condition_evaluated"
	StepLogTagAdded           StepLogStatus = "tag_added"
	StepLogSkipped            StepLogStatus = "skipped"
	StepLogFailed             StepLogStatus = "failed"
)

// SequenceStepLog is an append-only record of one step execution.
type SequenceStepLog struct {
	ID           string        `json:"id" db:"id"`
	EnrollmentID string        `json:"enrollment_id" db:"enrollment_id"`
	StepID       string        `json:"step_id" db:"step_id"`
	Status       StepLogStatus `json:"status" db:"status"`
	Error        string        `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}
