package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
)

// EnrollmentResult reports what happened for one candidate sequence.
type EnrollmentResult struct {
	SequenceID   string                     `json:"sequence_id"`
	SequenceName string                     `json:"sequence_name"`
	Enrollment   *domain.SequenceEnrollment `json:"enrollment,omitempty"`
	Skipped      bool                       `json:"skipped,omitempty"`
	Err          error                      `json:"-"`
}

// Evaluator turns trigger events into enrollments.
type Evaluator struct {
	sequences   SequenceStore
	enrollments EnrollmentStore
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(sequences SequenceStore, enrollments EnrollmentStore) *Evaluator {
	return &Evaluator{sequences: sequences, enrollments: enrollments}
}

// Enroll enrolls subscriberID into every active sequence of ownerID whose
// trigger matches the event. Only the initial sequence lookup can fail the
// call; per-sequence failures are logged and reported in the results.
// Sequences the subscriber is already enrolled in are reported as skipped.
func (ev *Evaluator) Enroll(ctx context.Context, ownerID string, triggerType domain.TriggerType, subscriberID string, payload domain.EventPayload) ([]EnrollmentResult, error) {
	seqs, err := ev.sequences.GetActiveSequencesByTrigger(ctx, ownerID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("list sequences for trigger %s: %w", triggerType, err)
	}

	var results []EnrollmentResult
	for i := range seqs {
		seq := &seqs[i]
		if !matches(seq, payload) {
			continue
		}
		res := EnrollmentResult{SequenceID: seq.ID, SequenceName: seq.Name}

		if seq.TriggerConfig != nil {
			if cfgErr := seq.TriggerConfig.Validate(); cfgErr != nil {
				res.Err = fmt.Errorf("%w: sequence %s: %v", ErrInvalidTriggerConfig, seq.ID, cfgErr)
				logger.Warn("sequence trigger config invalid",
					"sequence_id", seq.ID, "owner_id", ownerID, "error", cfgErr)
				results = append(results, res)
				continue
			}
		}

		metadata := map[string]any{
			"trigger_type": string(triggerType),
			"owner_id":     ownerID,
			"payload":      payloadSnapshot(payload),
		}
		enr, err := ev.enrollments.CreateEnrollment(ctx, seq.ID, subscriberID, metadata)
		switch {
		case errors.Is(err, ErrAlreadyEnrolled):
			res.Skipped = true
			logger.Debug("subscriber already enrolled",
				"sequence_id", seq.ID, "subscriber_id", subscriberID)
		case err != nil:
			res.Err = err
			logger.Error("create enrollment failed",
				"sequence_id", seq.ID, "subscriber_id", subscriberID, "error", err)
		default:
			res.Enrollment = enr
			logger.Info("subscriber enrolled",
				"sequence_id", seq.ID, "subscriber_id", subscriberID, "enrollment_id", enr.ID)
		}
		results = append(results, res)
	}
	return results, nil
}

// matches applies the sequence's trigger config to the payload. A malformed
// config is let through so the caller can report it.
func matches(seq *domain.Sequence, payload domain.EventPayload) bool {
	if seq.TriggerConfig == nil {
		return true
	}
	if seq.TriggerConfig.Validate() != nil {
		return true
	}
	return seq.TriggerConfig.Matches(payload)
}

func payloadSnapshot(p domain.EventPayload) map[string]any {
	snap := map[string]any{}
	if p.FormID != "" {
		snap["form_id"] = p.FormID
	}
	if p.Tag != "" {
		snap["tag"] = p.Tag
	}
	if len(p.Data) > 0 {
		snap["data"] = p.Data
	}
	return snap
}
