package sequence

import (
	"errors"
	"fmt"
)

// Sentinel errors for the sequence engine.
var (
	ErrSequenceNotFound     = errors.New("sequence not found")
	ErrSubscriberNotFound   = errors.New("subscriber not found")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrEnrollmentNotFound   = errors.New("enrollment not found")
	ErrMissingTemplate      = errors.New("email step has no template")
	ErrInvalidTriggerConfig = errors.New("invalid trigger config")
	ErrInvalidStepConfig    = errors.New("invalid step config")
	ErrCurrentStepMissing   = errors.New("current step no longer exists in sequence")
	ErrStaleEnrollment      = errors.New("enrollment was modified concurrently")
	ErrAlreadyEnrolled      = errors.New("subscriber already enrolled in sequence")
)

// ErrorKind classifies step failures for logging and retry decisions.
type ErrorKind string

const (
	// KindConfiguration marks a sequence or template that is set up wrong.
	// Retrying will not help until someone edits the configuration.
	KindConfiguration ErrorKind = "configuration"
	// KindTransient marks a failure of a collaborator that may succeed on retry.
	KindTransient ErrorKind = "transient"
	// KindNotFound marks a referenced record that no longer exists.
	KindNotFound ErrorKind = "not_found"
)

// StepError is returned by the Processor when an enrollment cannot advance.
type StepError struct {
	Kind         ErrorKind
	EnrollmentID string
	StepID       string
	Err          error
}

func (e *StepError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("enrollment %s: %s: %v", e.EnrollmentID, e.Kind, e.Err)
	}
	return fmt.Sprintf("enrollment %s step %s: %s: %v", e.EnrollmentID, e.StepID, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// configurationError is implemented by errors from other packages that
// describe bad configuration, such as unresolved template variables.
type configurationError interface {
	ConfigurationError() bool
}

// classify picks the ErrorKind for an error raised while executing a step.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrSequenceNotFound),
		errors.Is(err, ErrSubscriberNotFound),
		errors.Is(err, ErrTemplateNotFound):
		return KindNotFound
	case errors.Is(err, ErrMissingTemplate),
		errors.Is(err, ErrInvalidStepConfig),
		errors.Is(err, ErrCurrentStepMissing):
		return KindConfiguration
	}
	var ce configurationError
	if errors.As(err, &ce) && ce.ConfigurationError() {
		return KindConfiguration
	}
	return KindTransient
}

// IsKind reports whether err is a StepError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StepError
	return errors.As(err, &se) && se.Kind == kind
}
