// Package events consumes trigger events from an SQS queue and hands them to
// the sequence trigger evaluator.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
	"github.com/ignite/sequence-engine/internal/sequence"
)

const (
	defaultMaxMessages = 10
	defaultWaitSeconds = 20
	receiveBackoff     = 5 * time.Second
)

// sqsAPI is the subset of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Enroller is satisfied by *sequence.Evaluator.
type Enroller interface {
	Enroll(ctx context.Context, ownerID string, triggerType domain.TriggerType, subscriberID string, payload domain.EventPayload) ([]sequence.EnrollmentResult, error)
}

// Stats counts messages by disposition.
type Stats struct {
	Received  int64 `json:"received"`
	Processed int64 `json:"processed"`
	Malformed int64 `json:"malformed"`
	Retained  int64 `json:"retained"`
}

// Consumer long-polls a queue of JSON TriggerEvents.
type Consumer struct {
	client   sqsAPI
	queueURL string
	enroller Enroller

	mu   sync.Mutex
	stop context.CancelFunc
	wg   sync.WaitGroup

	received  atomic.Int64
	processed atomic.Int64
	malformed atomic.Int64
	retained  atomic.Int64
}

// NewConsumer creates a consumer for queueURL. client is normally *sqs.Client.
func NewConsumer(client sqsAPI, queueURL string, enroller Enroller) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		enroller: enroller,
	}
}

// Start begins polling in the background until ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	recvCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.stop = cancel
	c.mu.Unlock()

	logger.Info("trigger event consumer started", "queue", c.queueURL)
	c.wg.Add(1)
	go c.poll(ctx, recvCtx)
}

// Stop interrupts the pending long poll and waits for the batch being handled.
// It is safe to call more than once.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel := c.stop
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	logger.Info("trigger event consumer stopped")
}

// poll receives under recvCtx, which Stop cancels, and handles each batch
// under ctx so messages already received are enrolled and deleted.
func (c *Consumer) poll(ctx, recvCtx context.Context) {
	defer c.wg.Done()
	for recvCtx.Err() == nil {
		if _, err := c.pollOnce(ctx, recvCtx); err != nil {
			if recvCtx.Err() != nil {
				return
			}
			logger.Error("sqs receive failed", "queue", c.queueURL, "error", err)
			select {
			case <-recvCtx.Done():
				return
			case <-time.After(receiveBackoff):
			}
		}
	}
}

// PollOnce runs one receive cycle and returns the number of messages received.
// Processed and malformed messages are deleted. Messages whose enrollment
// failed for a retryable reason are left on the queue for redelivery.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	return c.pollOnce(ctx, ctx)
}

func (c *Consumer) pollOnce(ctx, recvCtx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: defaultMaxMessages,
		WaitTimeSeconds:     defaultWaitSeconds,
	})
	if err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}

	for _, msg := range out.Messages {
		c.received.Add(1)
		c.handle(ctx, msg)
	}
	return len(out.Messages), nil
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	evt, err := decodeEvent(msg)
	if err != nil {
		c.malformed.Add(1)
		logger.Warn("dropping malformed trigger event",
			"message_id", aws.ToString(msg.MessageId), "error", err)
		c.delete(ctx, msg)
		return
	}

	results, err := c.enroller.Enroll(ctx, evt.OwnerID, evt.TriggerType, evt.SubscriberID, evt.Payload)
	if err != nil {
		c.retained.Add(1)
		logger.Error("trigger event enrollment failed",
			"message_id", aws.ToString(msg.MessageId), "owner_id", evt.OwnerID, "error", err)
		return
	}
	if retryable(results) {
		c.retained.Add(1)
		logger.Warn("trigger event partially enrolled, leaving for redelivery",
			"message_id", aws.ToString(msg.MessageId), "subscriber_id", evt.SubscriberID)
		return
	}

	c.processed.Add(1)
	c.delete(ctx, msg)
}

func decodeEvent(msg types.Message) (domain.TriggerEvent, error) {
	var evt domain.TriggerEvent
	if msg.Body == nil {
		return evt, errors.New("empty body")
	}
	if err := json.Unmarshal([]byte(*msg.Body), &evt); err != nil {
		return evt, err
	}
	return evt, evt.Validate()
}

// retryable reports whether any result failed for a reason other than a
// broken trigger config. Redelivery is safe: existing enrollments are skipped.
func retryable(results []sequence.EnrollmentResult) bool {
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, sequence.ErrInvalidTriggerConfig) {
			return true
		}
	}
	return false
}

func (c *Consumer) delete(ctx context.Context, msg types.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Warn("sqs delete failed", "message_id", aws.ToString(msg.MessageId), "error", err)
	}
}

// Stats returns message counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Processed: c.processed.Load(),
		Malformed: c.malformed.Load(),
		Retained:  c.retained.Load(),
	}
}
