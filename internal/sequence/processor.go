package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
)

// Default retry delays for enrollments stalled on a configuration or
// not-found failure.
const (
	DefaultRetryBase = 5 * time.Minute
	DefaultRetryMax  = 24 * time.Hour
)

// ProcessorDeps are the collaborators of a Processor. Unsubscribe and
// Conditions are optional; a nil Now uses time.Now. An enrollment stalled on a
// configuration or not-found failure is retried after RetryBase, doubling per
// consecutive failure up to RetryMax. Transient failures leave the row due.
type ProcessorDeps struct {
	Sequences   SequenceStore
	Enrollments EnrollmentStore
	Subscribers SubscriberStore
	Templates   TemplateStore
	Sender      EmailSender
	Unsubscribe UnsubscribeLinker
	Conditions  *ConditionEvaluator
	Now         func() time.Time
	RetryBase   time.Duration
	RetryMax    time.Duration
}

// Processor advances enrollments through their sequence's steps.
type Processor struct {
	sequences   SequenceStore
	enrollments EnrollmentStore
	subscribers SubscriberStore
	templates   TemplateStore
	sender      EmailSender
	unsubscribe UnsubscribeLinker
	conditions  *ConditionEvaluator
	now         func() time.Time
	retryBase   time.Duration
	retryMax    time.Duration
}

// NewProcessor creates a Processor.
func NewProcessor(deps ProcessorDeps) *Processor {
	p := &Processor{
		sequences:   deps.Sequences,
		enrollments: deps.Enrollments,
		subscribers: deps.Subscribers,
		templates:   deps.Templates,
		sender:      deps.Sender,
		unsubscribe: deps.Unsubscribe,
		conditions:  deps.Conditions,
		now:         deps.Now,
		retryBase:   deps.RetryBase,
		retryMax:    deps.RetryMax,
	}
	if p.conditions == nil {
		p.conditions = NewConditionEvaluator()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.retryBase <= 0 {
		p.retryBase = DefaultRetryBase
	}
	if p.retryMax <= 0 {
		p.retryMax = DefaultRetryMax
	}
	p.retryMax = max(p.retryMax, p.retryBase)
	return p
}

// pass holds the state of one AdvanceEnrollment call. Subscriber and
// templates are loaded on first use.
type pass struct {
	enr       *domain.SequenceEnrollment
	seq       *domain.Sequence
	sub       *domain.Subscriber
	templates map[string]*domain.Template
	log       *logger.Entry
}

// stepOutcome is what a successfully executed step asks the processor to record.
type stepOutcome struct {
	status     domain.StepLogStatus
	nextStepAt *time.Time
	suspend    bool
}

// AdvanceEnrollment runs every step that is due for enr, stopping at a Wait
// step, at the end of the sequence, or at the first failure. enr's
// CurrentStepID, NextStepAt, Status and Version are updated in place as rows
// are written.
//
// Execution failures append a failed step log and return a *StepError;
// configuration and not-found failures also push NextStepAt out by the retry
// delay. Losing a compare-and-swap race returns ErrStaleEnrollment.
func (p *Processor) AdvanceEnrollment(ctx context.Context, enr *domain.SequenceEnrollment) error {
	if !enr.IsActive() {
		return nil
	}
	now := p.now()
	if !enr.IsDue(now) {
		return nil
	}

	seq, err := p.sequences.GetSequence(ctx, enr.SequenceID)
	if err != nil {
		if errors.Is(err, ErrSequenceNotFound) {
			return &StepError{Kind: KindNotFound, EnrollmentID: enr.ID, Err: err}
		}
		return fmt.Errorf("get sequence %s: %w", enr.SequenceID, err)
	}
	if !seq.IsActive() {
		logger.Debug("sequence not active, holding enrollment",
			"enrollment_id", enr.ID, "sequence_id", seq.ID, "status", seq.Status)
		return nil
	}

	steps, err := p.sequences.GetSequenceSteps(ctx, seq.ID)
	if err != nil {
		return fmt.Errorf("get steps for sequence %s: %w", seq.ID, err)
	}
	domain.SortSteps(steps)

	currentOrder := 0
	if enr.CurrentStepID != nil {
		cur := findStep(steps, *enr.CurrentStepID)
		if cur == nil {
			return p.fail(ctx, enr, "", &StepError{
				Kind:         KindConfiguration,
				EnrollmentID: enr.ID,
				StepID:       *enr.CurrentStepID,
				Err:          ErrCurrentStepMissing,
			})
		}
		currentOrder = cur.StepOrder
	}

	ps := &pass{
		enr:       enr,
		seq:       seq,
		templates: make(map[string]*domain.Template),
		log:       logger.With("enrollment_id", enr.ID, "sequence_id", seq.ID),
	}

	for {
		// A cancelled context means the enrollment lock was lost or the
		// worker is stopping; the next step belongs to whoever holds it now.
		if err := ctx.Err(); err != nil {
			return err
		}
		step := nextStep(steps, currentOrder)
		if step == nil {
			return p.complete(ctx, ps)
		}

		ok, err := p.conditionsHold(ctx, ps, step)
		if err != nil {
			return p.failStep(ctx, ps, step, err)
		}
		if !ok {
			ps.log.Debug("step conditions not met, skipping", "step_id", step.ID)
			if err := p.record(ctx, ps, step, stepOutcome{status: domain.StepLogSkipped}); err != nil {
				return err
			}
			currentOrder = step.StepOrder
			continue
		}

		outcome, err := p.execute(ctx, ps, step)
		if err != nil {
			return p.failStep(ctx, ps, step, err)
		}
		if err := p.record(ctx, ps, step, outcome); err != nil {
			return err
		}
		if outcome.suspend {
			return nil
		}
		currentOrder = step.StepOrder
	}
}

func (p *Processor) execute(ctx context.Context, ps *pass, step *domain.SequenceStep) (stepOutcome, error) {
	switch step.StepType {
	case domain.StepEmail:
		return p.executeEmail(ctx, ps, step)
	case domain.StepWait:
		next := NextExecutionAt(step.DelayValue, step.DelayUnit, p.now())
		ps.log.Debug("wait scheduled", "step_id", step.ID, "next_step_at", next.Format(time.RFC3339))
		return stepOutcome{status: domain.StepLogWaitScheduled, nextStepAt: &next, suspend: true}, nil
	case domain.StepCondition:
		// Branching is expressed through per-step conditions; a condition
		// step itself only records that it was reached.
		return stepOutcome{status: domain.StepLogConditionEvaluated}, nil
	case domain.StepTag:
		return p.executeTag(ctx, ps, step)
	default:
		return stepOutcome{}, fmt.Errorf("%w: unknown step type %q", ErrInvalidStepConfig, step.StepType)
	}
}

func (p *Processor) executeEmail(ctx context.Context, ps *pass, step *domain.SequenceStep) (stepOutcome, error) {
	if !step.HasTemplate() {
		return stepOutcome{}, ErrMissingTemplate
	}
	if err := actionError(step); err != nil {
		return stepOutcome{}, err
	}
	sub, err := p.subscriber(ctx, ps)
	if err != nil {
		return stepOutcome{}, err
	}
	if sub.Suppressed() {
		ps.log.Info("sequence email suppressed", "step_id", step.ID, "subscriber_status", string(sub.Status))
		return stepOutcome{status: domain.StepLogSkipped}, nil
	}
	tpl, err := p.template(ctx, ps, *step.TemplateID)
	if err != nil {
		return stepOutcome{}, err
	}

	unsubscribeURL := ""
	if p.unsubscribe != nil {
		unsubscribeURL = p.unsubscribe.URL(ps.seq.OwnerID, ps.seq.ID, sub.ID)
	}
	vars := BuildVariables(sub, ps.seq, step, tpl, unsubscribeURL)

	messageID, err := p.sender.RenderAndSendEmail(ctx, sub, tpl, vars, step.Subject)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("send email: %w", err)
	}
	ps.log.Info("sequence email sent", "step_id", step.ID, "message_id", messageID, "email", sub.Email)
	return stepOutcome{status: domain.StepLogSent}, nil
}

func (p *Processor) executeTag(ctx context.Context, ps *pass, step *domain.SequenceStep) (stepOutcome, error) {
	if err := actionError(step); err != nil {
		return stepOutcome{}, err
	}
	action, _ := step.Action.(domain.TagAction)
	if action.Tag == "" {
		// A tag step without a tag has nothing to do.
		return stepOutcome{status: domain.StepLogSkipped}, nil
	}

	sub, err := p.subscriber(ctx, ps)
	if err != nil {
		return stepOutcome{}, err
	}
	if sub.AddTag(action.Tag) {
		if err := p.subscribers.UpdateSubscriberTags(ctx, sub.ID, sub.Tags); err != nil {
			return stepOutcome{}, fmt.Errorf("update subscriber tags: %w", err)
		}
	}
	return stepOutcome{status: domain.StepLogTagAdded}, nil
}

func actionError(step *domain.SequenceStep) error {
	if step.Action == nil {
		return nil
	}
	if err := step.Action.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
	}
	return nil
}

func (p *Processor) conditionsHold(ctx context.Context, ps *pass, step *domain.SequenceStep) (bool, error) {
	if step.Conditions.IsEmpty() {
		return true, nil
	}
	in := ConditionInput{Sequence: ps.seq, Step: step, Enrollment: ps.enr}
	if step.Conditions.Validate() == nil {
		sub, err := p.subscriber(ctx, ps)
		if err != nil {
			return false, err
		}
		in.Subscriber = sub
	}
	return p.conditions.Evaluate(step.Conditions, in)
}

// record writes the step log and then moves the enrollment onto step.
func (p *Processor) record(ctx context.Context, ps *pass, step *domain.SequenceStep, out stepOutcome) error {
	if err := p.enrollments.AppendStepLog(ctx, ps.enr.ID, step.ID, out.status, ""); err != nil {
		return fmt.Errorf("append step log: %w", err)
	}

	next := out.nextStepAt
	if next == nil {
		now := p.now()
		next = &now
	}
	stepID := step.ID
	if err := p.enrollments.UpdateEnrollmentProgress(ctx, ps.enr.ID, ps.enr.Version, &stepID, next); err != nil {
		return fmt.Errorf("update enrollment progress: %w", err)
	}
	ps.enr.CurrentStepID = &stepID
	ps.enr.NextStepAt = next
	ps.enr.FailureCount = 0
	ps.enr.LastError = ""
	ps.enr.Version++
	return nil
}

func (p *Processor) complete(ctx context.Context, ps *pass) error {
	now := p.now()
	if err := p.enrollments.CompleteEnrollment(ctx, ps.enr.ID, ps.enr.Version, now); err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	ps.enr.Status = domain.EnrollmentCompleted
	ps.enr.CompletedAt = &now
	ps.enr.Version++
	ps.log.Info("enrollment completed")
	return nil
}

// failStep classifies an error raised by step and records it.
func (p *Processor) failStep(ctx context.Context, ps *pass, step *domain.SequenceStep, err error) error {
	stepErr := &StepError{Kind: classify(err), EnrollmentID: ps.enr.ID, StepID: step.ID, Err: err}
	return p.fail(ctx, ps.enr, step.ID, stepErr)
}

// fail records stepErr and returns it. A failed log is appended against
// logStepID unless the previous failure of the streak had the same error.
// Transient failures leave the row due for the next tick. Other kinds keep
// the current step and defer the row by the retry delay so it does not stay
// at the head of the due queue.
func (p *Processor) fail(ctx context.Context, enr *domain.SequenceEnrollment, logStepID string, stepErr *StepError) error {
	msg := stepErr.Error()
	repeat := enr.FailureCount > 0 && enr.LastError == msg
	if logStepID != "" && !repeat {
		if err := p.enrollments.AppendStepLog(ctx, enr.ID, logStepID, domain.StepLogFailed, stepErr.Err.Error()); err != nil {
			logger.Error("append failed step log", "enrollment_id", enr.ID, "step_id", logStepID, "error", err)
		}
	}
	if stepErr.Kind == KindTransient {
		return stepErr
	}

	failures := enr.FailureCount + 1
	retryAt := p.now().Add(p.retryDelay(failures))
	if err := p.enrollments.DeferEnrollment(ctx, enr.ID, enr.Version, failures, msg, retryAt); err != nil {
		logger.Warn("defer failed enrollment", "enrollment_id", enr.ID, "error", err)
		return stepErr
	}
	enr.NextStepAt = &retryAt
	enr.FailureCount = failures
	enr.LastError = msg
	enr.Version++
	return stepErr
}

// retryDelay is retryBase doubled for each failure after the first, capped
// at retryMax.
func (p *Processor) retryDelay(failures int) time.Duration {
	d := p.retryBase
	for i := 1; i < failures && d < p.retryMax; i++ {
		d *= 2
	}
	return min(d, p.retryMax)
}

func (p *Processor) subscriber(ctx context.Context, ps *pass) (*domain.Subscriber, error) {
	if ps.sub != nil {
		return ps.sub, nil
	}
	sub, err := p.subscribers.GetSubscriber(ctx, ps.enr.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("get subscriber %s: %w", ps.enr.SubscriberID, err)
	}
	ps.sub = sub
	return sub, nil
}

func (p *Processor) template(ctx context.Context, ps *pass, id string) (*domain.Template, error) {
	if tpl, ok := ps.templates[id]; ok {
		return tpl, nil
	}
	tpl, err := p.templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	ps.templates[id] = tpl
	return tpl, nil
}

func findStep(steps []domain.SequenceStep, id string) *domain.SequenceStep {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

// nextStep returns the first step ordered after order. steps must be sorted.
func nextStep(steps []domain.SequenceStep, order int) *domain.SequenceStep {
	for i := range steps {
		if steps[i].StepOrder > order {
			return &steps[i]
		}
	}
	return nil
}
