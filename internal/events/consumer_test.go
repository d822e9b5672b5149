package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/sequence"
)

type fakeSQS struct {
	mu         sync.Mutex
	messages   []types.Message
	receiveErr error
	deleted    []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	msgs := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type enrollCall struct {
	ownerID      string
	triggerType  domain.TriggerType
	subscriberID string
	payload      domain.EventPayload
}

type fakeEnroller struct {
	calls   []enrollCall
	results []sequence.EnrollmentResult
	err     error
}

func (f *fakeEnroller) Enroll(ctx context.Context, ownerID string, triggerType domain.TriggerType, subscriberID string, payload domain.EventPayload) ([]sequence.EnrollmentResult, error) {
	f.calls = append(f.calls, enrollCall{ownerID, triggerType, subscriberID, payload})
	return f.results, f.err
}

func message(handle, body string) types.Message {
	return types.Message{
		MessageId:     aws.String("msg-" + handle),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String(body),
	}
}

const validBody = `{"owner_id":"org-1","trigger_type":"form_submission","subscriber_id":"sub-1","payload":{"form_id":"F1"}}`

func TestPollOnce_ProcessesAndDeletes(t *testing.T) {
	q := &fakeSQS{messages: []types.Message{message("h1", validBody)}}
	enr := &fakeEnroller{results: []sequence.EnrollmentResult{{SequenceID: "seq-1"}}}
	c := NewConsumer(q, "https://sqs.local/queue", enr)

	n, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, enr.calls, 1)
	assert.Equal(t, "org-1", enr.calls[0].ownerID)
	assert.Equal(t, domain.TriggerFormSubmission, enr.calls[0].triggerType)
	assert.Equal(t, "sub-1", enr.calls[0].subscriberID)
	assert.Equal(t, "F1", enr.calls[0].payload.FormID)
	assert.Equal(t, []string{"h1"}, q.deleted)
	assert.Equal(t, int64(1), c.Stats().Processed)
}

func TestPollOnce_DeletesMalformed(t *testing.T) {
	q := &fakeSQS{messages: []types.Message{
		message("bad-json", "{not json"),
		message("bad-type", `{"owner_id":"o","trigger_type":"bogus","subscriber_id":"s"}`),
		message("no-sub", `{"owner_id":"o","trigger_type":"manual"}`),
	}}
	enr := &fakeEnroller{}
	c := NewConsumer(q, "q", enr)

	_, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, enr.calls)
	assert.ElementsMatch(t, []string{"bad-json", "bad-type", "no-sub"}, q.deleted)
	assert.Equal(t, int64(3), c.Stats().Malformed)
}

func TestPollOnce_KeepsMessageWhenLookupFails(t *testing.T) {
	q := &fakeSQS{messages: []types.Message{message("h1", validBody)}}
	enr := &fakeEnroller{err: errors.New("db down")}
	c := NewConsumer(q, "q", enr)

	_, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, q.deleted)
	assert.Equal(t, int64(1), c.Stats().Retained)
}

func TestPollOnce_RetryableResultKeepsMessage(t *testing.T) {
	q := &fakeSQS{messages: []types.Message{message("h1", validBody)}}
	enr := &fakeEnroller{results: []sequence.EnrollmentResult{
		{SequenceID: "seq-1", Err: errors.New("connection reset")},
	}}
	c := NewConsumer(q, "q", enr)

	_, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, q.deleted)
}

func TestPollOnce_InvalidTriggerConfigStillDeletes(t *testing.T) {
	q := &fakeSQS{messages: []types.Message{message("h1", validBody)}}
	enr := &fakeEnroller{results: []sequence.EnrollmentResult{
		{SequenceID: "seq-1", Err: sequence.ErrInvalidTriggerConfig},
		{SequenceID: "seq-2", Skipped: true},
	}}
	c := NewConsumer(q, "q", enr)

	_, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, q.deleted)
}

func TestPollOnce_ReceiveError(t *testing.T) {
	q := &fakeSQS{receiveErr: errors.New("throttled")}
	c := NewConsumer(q, "q", &fakeEnroller{})

	n, err := c.PollOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestStartStop(t *testing.T) {
	q := &fakeSQS{}
	c := NewConsumer(q, "q", &fakeEnroller{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	c.Stop()
}

// longPollSQS blocks in ReceiveMessage until its context ends, like an SQS
// long poll on an empty queue.
type longPollSQS struct {
	fakeSQS
	waiting chan struct{}
	once    sync.Once
}

func (f *longPollSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.once.Do(func() { close(f.waiting) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(in.WaitTimeSeconds) * time.Second):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func TestStopInterruptsLongPoll(t *testing.T) {
	q := &longPollSQS{waiting: make(chan struct{})}
	c := NewConsumer(q, "q", &fakeEnroller{})

	c.Start(context.Background())
	select {
	case <-q.waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never polled")
	}

	start := time.Now()
	c.Stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopIsIdempotent(t *testing.T) {
	c := NewConsumer(&fakeSQS{}, "q", &fakeEnroller{})
	assert.NotPanics(t, func() {
		c.Stop()
		c.Start(context.Background())
		c.Stop()
		c.Stop()
	})
}
