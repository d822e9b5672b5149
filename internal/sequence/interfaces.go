package sequence

import (
	"context"
	"time"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/distlock"
)

// SequenceStore reads sequence definitions.
type SequenceStore interface {
	GetActiveSequencesByTrigger(ctx context.Context, ownerID string, triggerType domain.TriggerType) ([]domain.Sequence, error)
	// GetSequence returns ErrSequenceNotFound when the id is unknown.
	GetSequence(ctx context.Context, id string) (*domain.Sequence, error)
	// GetSequenceSteps returns steps ordered by StepOrder.
	GetSequenceSteps(ctx context.Context, sequenceID string) ([]domain.SequenceStep, error)
}

// EnrollmentStore persists enrollments and their step logs.
// Progress writes are compare-and-swap on the enrollment's Version and return
// ErrStaleEnrollment when the row changed or is no longer active.
type EnrollmentStore interface {
	// CreateEnrollment returns ErrAlreadyEnrolled if the pair already exists.
	CreateEnrollment(ctx context.Context, sequenceID, subscriberID string, metadata map[string]any) (*domain.SequenceEnrollment, error)
	// GetEnrollment returns ErrEnrollmentNotFound when the id is unknown.
	GetEnrollment(ctx context.Context, id string) (*domain.SequenceEnrollment, error)
	// GetDueEnrollments lists due rows of active sequences in
	// (next_step_at NULLS FIRST, id) order, starting after the cursor when
	// one is given.
	GetDueEnrollments(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]domain.SequenceEnrollment, error)
	UpdateEnrollmentProgress(ctx context.Context, id string, expectedVersion int64, currentStepID *string, nextStepAt *time.Time) error
	CompleteEnrollment(ctx context.Context, id string, expectedVersion int64, completedAt time.Time) error
	// DeferEnrollment keeps the current step and makes the row due again at
	// retryAt, recording the failure streak that caused the delay.
	DeferEnrollment(ctx context.Context, id string, expectedVersion int64, failureCount int, lastError string, retryAt time.Time) error
	AppendStepLog(ctx context.Context, enrollmentID, stepID string, status domain.StepLogStatus, errMsg string) error
}

// DueCursor is the position of the last row of a due page.
type DueCursor struct {
	NextStepAt *time.Time
	ID         string
}

// CursorAfter returns the cursor positioned at enr.
func CursorAfter(enr domain.SequenceEnrollment) *DueCursor {
	return &DueCursor{NextStepAt: enr.NextStepAt, ID: enr.ID}
}

// Before reports whether enr sorts before or at the cursor position.
func (c *DueCursor) Before(enr domain.SequenceEnrollment) bool {
	if c == nil {
		return false
	}
	a, b := enr.NextStepAt, c.NextStepAt
	switch {
	case a == nil && b != nil:
		return true
	case a != nil && b == nil:
		return false
	case a != nil && !a.Equal(*b):
		return a.Before(*b)
	}
	return enr.ID <= c.ID
}

// SubscriberStore reads and mutates subscribers.
type SubscriberStore interface {
	// GetSubscriber returns ErrSubscriberNotFound when the id is unknown.
	GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error)
	UpdateSubscriberTags(ctx context.Context, id string, tags []string) error
}

// TemplateStore reads email templates.
type TemplateStore interface {
	// GetTemplate returns ErrTemplateNotFound when the id is unknown.
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// EmailSender renders a template with vars and dispatches it to sub.
// A non-empty subjectOverride replaces the template subject.
type EmailSender interface {
	RenderAndSendEmail(ctx context.Context, sub *domain.Subscriber, tpl *domain.Template, vars map[string]string, subjectOverride string) (string, error)
}

// Advancer advances a single enrollment. *Processor implements it.
type Advancer interface {
	AdvanceEnrollment(ctx context.Context, enr *domain.SequenceEnrollment) error
}

// LockProvider hands out per-enrollment locks. A nil lock means no locking.
type LockProvider interface {
	ForEnrollment(enrollmentID string) distlock.DistLock
}

// UnsubscribeLinker builds the unsubscribe URL placed in sequence emails.
type UnsubscribeLinker interface {
	URL(ownerID, sequenceID, subscriberID string) string
}
