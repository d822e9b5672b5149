package sequence

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ignite/sequence-engine/internal/domain"
)

// ConditionEvaluator evaluates step predicates written in expr-lang.
// Compiled programs are cached by expression and shared across goroutines.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditionEvaluator creates an evaluator with an empty program cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{cache: make(map[string]*vm.Program)}
}

// ConditionInput is everything a predicate may look at.
type ConditionInput struct {
	Subscriber *domain.Subscriber
	Sequence   *domain.Sequence
	Step       *domain.SequenceStep
	Enrollment *domain.SequenceEnrollment
}

// Evaluate reports whether c holds for in. Empty conditions always hold.
// Parse, compile and runtime failures wrap ErrInvalidStepConfig.
func (ce *ConditionEvaluator) Evaluate(c domain.Conditions, in ConditionInput) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
	}
	if c.IsEmpty() {
		return true, nil
	}

	env := conditionEnv(in)
	prg, err := ce.program(c.Expr, env)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("%w: evaluate %q: %v", ErrInvalidStepConfig, c.Expr, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("%w: condition %q returned %T, want bool", ErrInvalidStepConfig, c.Expr, out)
	}
	return ok, nil
}

func (ce *ConditionEvaluator) program(expression string, env map[string]any) (*vm.Program, error) {
	ce.mu.RLock()
	if prg, ok := ce.cache[expression]; ok {
		ce.mu.RUnlock()
		return prg, nil
	}
	ce.mu.RUnlock()

	ce.mu.Lock()
	defer ce.mu.Unlock()

	if prg, ok := ce.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrInvalidStepConfig, expression, err)
	}
	ce.cache[expression] = prg
	return prg, nil
}

func conditionEnv(in ConditionInput) map[string]any {
	subscriber := map[string]any{}
	tags := []string{}
	fields := map[string]any{}
	if s := in.Subscriber; s != nil {
		if s.Tags != nil {
			tags = s.Tags
		}
		if s.CustomFields != nil {
			fields = s.CustomFields
		}
		subscriber = map[string]any{
			"id":            s.ID,
			"email":         s.Email,
			"first_name":    s.FirstName,
			"last_name":     s.LastName,
			"status":        string(s.Status),
			"tags":          tags,
			"custom_fields": fields,
		}
	}

	sequence := map[string]any{}
	if in.Sequence != nil {
		sequence = map[string]any{"id": in.Sequence.ID, "name": in.Sequence.Name}
	}
	step := map[string]any{}
	if in.Step != nil {
		step = map[string]any{"id": in.Step.ID, "name": in.Step.Name, "order": in.Step.StepOrder}
	}
	metadata := map[string]any{}
	if in.Enrollment != nil && in.Enrollment.Metadata != nil {
		metadata = in.Enrollment.Metadata
	}

	return map[string]any{
		"subscriber": subscriber,
		"tags":       tags,
		"fields":     fields,
		"metadata":   metadata,
		"sequence":   sequence,
		"step":       step,
		"has_tag": func(tag string) bool {
			for _, t := range tags {
				if t == tag {
					return true
				}
			}
			return false
		},
	}
}
