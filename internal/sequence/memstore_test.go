package sequence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/sequence-engine/internal/domain"
)

// memStore is an in-memory implementation of every store the engine uses.
type memStore struct {
	mu          sync.Mutex
	sequences   map[string]*domain.Sequence
	steps       map[string][]domain.SequenceStep
	enrollments map[string]*domain.SequenceEnrollment
	logs        []domain.SequenceStepLog
	subscribers map[string]*domain.Subscriber
	templates   map[string]*domain.Template
	nextID      int
	now         func() time.Time

	createErr error
	updateErr error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		sequences:   make(map[string]*domain.Sequence),
		steps:       make(map[string][]domain.SequenceStep),
		enrollments: make(map[string]*domain.SequenceEnrollment),
		subscribers: make(map[string]*domain.Subscriber),
		templates:   make(map[string]*domain.Template),
		now:         now,
	}
}

func (m *memStore) addSequence(seq domain.Sequence, steps ...domain.SequenceStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range steps {
		steps[i].SequenceID = seq.ID
		steps[i].Normalize()
	}
	m.sequences[seq.ID] = &seq
	m.steps[seq.ID] = steps
}

func (m *memStore) addSubscriber(sub domain.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[sub.ID] = &sub
}

func (m *memStore) addTemplate(tpl domain.Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tpl.ID] = &tpl
}

func (m *memStore) GetActiveSequencesByTrigger(_ context.Context, ownerID string, t domain.TriggerType) ([]domain.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sequence
	for _, s := range m.sequences {
		if s.OwnerID == ownerID && s.TriggerType == t && s.IsActive() {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSequence(_ context.Context, id string) (*domain.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sequences[id]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetSequenceSteps(_ context.Context, sequenceID string) ([]domain.SequenceStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := append([]domain.SequenceStep(nil), m.steps[sequenceID]...)
	domain.SortSteps(steps)
	return steps, nil
}

func (m *memStore) CreateEnrollment(_ context.Context, sequenceID, subscriberID string, metadata map[string]any) (*domain.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	for _, e := range m.enrollments {
		if e.SequenceID == sequenceID && e.SubscriberID == subscriberID {
			return nil, ErrAlreadyEnrolled
		}
	}
	m.nextID++
	now := m.now()
	e := &domain.SequenceEnrollment{
		ID:           fmt.Sprintf("enr-%d", m.nextID),
		SequenceID:   sequenceID,
		SubscriberID: subscriberID,
		Status:       domain.EnrollmentActive,
		EnrolledAt:   now,
		NextStepAt:   &now,
		Metadata:     metadata,
	}
	m.enrollments[e.ID] = e
	cp := *e
	return &cp, nil
}

func (m *memStore) GetEnrollment(_ context.Context, id string) (*domain.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, ErrEnrollmentNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) GetDueEnrollments(_ context.Context, now time.Time, after *DueCursor, limit int) ([]domain.SequenceEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SequenceEnrollment
	for _, e := range m.enrollments {
		seq, ok := m.sequences[e.SequenceID]
		if ok && seq.IsActive() && e.IsActive() && e.IsDue(now) && !after.Before(*e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return CursorAfter(out[j]).Before(out[i]) && out[i].ID != out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateEnrollmentProgress(_ context.Context, id string, expectedVersion int64, currentStepID *string, nextStepAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	e, ok := m.enrollments[id]
	if !ok || e.Version != expectedVersion || !e.IsActive() {
		return ErrStaleEnrollment
	}
	e.CurrentStepID = currentStepID
	e.NextStepAt = nextStepAt
	e.FailureCount = 0
	e.LastError = ""
	e.Version++
	return nil
}

func (m *memStore) DeferEnrollment(_ context.Context, id string, expectedVersion int64, failureCount int, lastError string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	e, ok := m.enrollments[id]
	if !ok || e.Version != expectedVersion || !e.IsActive() {
		return ErrStaleEnrollment
	}
	e.NextStepAt = &retryAt
	e.FailureCount = failureCount
	e.LastError = lastError
	e.Version++
	return nil
}

func (m *memStore) CompleteEnrollment(_ context.Context, id string, expectedVersion int64, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Version != expectedVersion || !e.IsActive() {
		return ErrStaleEnrollment
	}
	e.Status = domain.EnrollmentCompleted
	e.CompletedAt = &completedAt
	e.Version++
	return nil
}

func (m *memStore) AppendStepLog(_ context.Context, enrollmentID, stepID string, status domain.StepLogStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, domain.SequenceStepLog{
		ID:           fmt.Sprintf("log-%d", len(m.logs)+1),
		EnrollmentID: enrollmentID,
		StepID:       stepID,
		Status:       status,
		Error:        errMsg,
		CreatedAt:    m.now(),
	})
	return nil
}

func (m *memStore) GetSubscriber(_ context.Context, id string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[id]
	if !ok {
		return nil, ErrSubscriberNotFound
	}
	cp := *s
	cp.Tags = append([]string(nil), s.Tags...)
	return &cp, nil
}

func (m *memStore) UpdateSubscriberTags(_ context.Context, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscribers[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	s.Tags = append([]string(nil), tags...)
	return nil
}

func (m *memStore) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) enrollment(id string) domain.SequenceEnrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.enrollments[id]
}

func (m *memStore) logStatuses(enrollmentID string) []domain.StepLogStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StepLogStatus
	for _, l := range m.logs {
		if l.EnrollmentID == enrollmentID {
			out = append(out, l.Status)
		}
	}
	return out
}

type sentEmail struct {
	SubscriberID string
	TemplateID   string
	Subject      string
	Vars         map[string]string
}

// fakeSender records every send.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeSender) RenderAndSendEmail(_ context.Context, sub *domain.Subscriber, tpl *domain.Template, vars map[string]string, subjectOverride string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	subject := tpl.Subject
	if subjectOverride != "" {
		subject = subjectOverride
	}
	f.sent = append(f.sent, sentEmail{SubscriberID: sub.ID, TemplateID: tpl.ID, Subject: subject, Vars: vars})
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeClock is a settable clock shared by the store and the processor.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func strPtr(s string) *string { return &s }
