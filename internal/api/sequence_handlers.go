package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/events"
	"github.com/ignite/sequence-engine/internal/pkg/httputil"
	"github.com/ignite/sequence-engine/internal/sequence"
)

// TriggerEnroller is satisfied by *sequence.Evaluator.
type TriggerEnroller interface {
	Enroll(ctx context.Context, ownerID string, triggerType domain.TriggerType, subscriberID string, payload domain.EventPayload) ([]sequence.EnrollmentResult, error)
}

// WorkerMonitor is satisfied by *sequence.Worker.
type WorkerMonitor interface {
	IsHealthy() bool
	LastRunAt() time.Time
	Stats() sequence.WorkerStats
}

// ConsumerMonitor is satisfied by *events.Consumer.
type ConsumerMonitor interface {
	Stats() events.Stats
}

// SequenceHandlers serves the engine's HTTP operations.
type SequenceHandlers struct {
	enroller TriggerEnroller
	worker   WorkerMonitor
	consumer ConsumerMonitor
}

// NewSequenceHandlers creates the handlers. worker and consumer may be nil.
func NewSequenceHandlers(enroller TriggerEnroller, worker WorkerMonitor, consumer ConsumerMonitor) *SequenceHandlers {
	return &SequenceHandlers{enroller: enroller, worker: worker, consumer: consumer}
}

type enrollmentOutcome struct {
	SequenceID   string `json:"sequence_id"`
	SequenceName string `json:"sequence_name,omitempty"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	Status       string `json:"status"` // "enrolled", "skipped", "error"
	Error        string `json:"error,omitempty"`
}

type triggerResponse struct {
	Matched  int                 `json:"matched"`
	Enrolled int                 `json:"enrolled"`
	Results  []enrollmentOutcome `json:"results"`
}

// HandleTriggerEvent ingests one trigger event and enrolls the subscriber in
// every matching active sequence.
//
//	POST /api/sequences/events
func (h *SequenceHandlers) HandleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var evt domain.TriggerEvent
	if !httputil.Decode(w, r, &evt) {
		return
	}
	if err := evt.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	results, err := h.enroller.Enroll(r.Context(), evt.OwnerID, evt.TriggerType, evt.SubscriberID, evt.Payload)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	resp := triggerResponse{Matched: len(results), Results: make([]enrollmentOutcome, 0, len(results))}
	for _, res := range results {
		out := enrollmentOutcome{SequenceID: res.SequenceID, SequenceName: res.SequenceName}
		switch {
		case res.Err != nil:
			out.Status = "error"
			out.Error = res.Err.Error()
		case res.Skipped:
			out.Status = "skipped"
		default:
			out.Status = "enrolled"
			if res.Enrollment != nil {
				out.EnrollmentID = res.Enrollment.ID
			}
			resp.Enrolled++
		}
		resp.Results = append(resp.Results, out)
	}
	httputil.Accepted(w, resp)
}

// HandleWorkerStats returns the worker and event consumer counters.
//
//	GET /api/sequences/worker
func (h *SequenceHandlers) HandleWorkerStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if h.worker != nil {
		body["worker"] = h.worker.Stats()
	}
	if h.consumer != nil {
		body["consumer"] = h.consumer.Stats()
	}
	httputil.OK(w, body)
}
