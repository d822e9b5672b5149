package sequence

import (
	"time"

	"github.com/ignite/sequence-engine/internal/domain"
)

// DelayDuration converts a step delay into a duration. Unknown units are
// treated as hours. Values are used as given; clamping negatives is the job of
// SequenceStep.Normalize.
func DelayDuration(value int, unit domain.DelayUnit) time.Duration {
	switch unit {
	case domain.DelayMinutes:
		return time.Duration(value) * time.Minute
	case domain.DelayDays:
		return time.Duration(value) * 24 * time.Hour
	default:
		return time.Duration(value) * time.Hour
	}
}

// NextExecutionAt returns when a delay of value units, counted from from, elapses.
func NextExecutionAt(value int, unit domain.DelayUnit, from time.Time) time.Time {
	return from.Add(DelayDuration(value, unit))
}
