package mailing

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the mailing package.
var (
	ErrUnresolvedVariable = errors.New("unresolved template variable")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrSenderNotReady     = errors.New("sender not initialized")
	ErrBadSignature       = errors.New("invalid unsubscribe signature")
)

// UnresolvedVariableError lists template variables that had no value.
type UnresolvedVariableError struct {
	Names []string
}

func (e *UnresolvedVariableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnresolvedVariable, strings.Join(e.Names, ", "))
}

func (e *UnresolvedVariableError) Unwrap() error { return ErrUnresolvedVariable }

// ConfigurationError marks the failure as a template problem rather than a
// delivery problem.
func (e *UnresolvedVariableError) ConfigurationError() bool { return true }

// MessageError reports a message that cannot be sent as built.
type MessageError struct {
	Reason string
}

func (e *MessageError) Error() string { return fmt.Sprintf("%s: %s", ErrInvalidMessage, e.Reason) }

func (e *MessageError) Unwrap() error { return ErrInvalidMessage }

// ConfigurationError marks the failure as fixable only by changing configuration.
func (e *MessageError) ConfigurationError() bool { return true }
