package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/sequence"
)

// EnrollmentRepo implements sequence.EnrollmentStore against PostgreSQL.
type EnrollmentRepo struct{ db *sql.DB }

// NewEnrollmentRepo creates a Postgres-backed enrollment repository.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollmentColumns = `id, sequence_id, subscriber_id, current_step_id, status,
	enrolled_at, completed_at, cancelled_at, next_step_at, metadata, version,
	failure_count, last_error`

func scanEnrollment(row rowScanner) (*domain.SequenceEnrollment, error) {
	var (
		e                                    domain.SequenceEnrollment
		currentStepID, lastError             sql.NullString
		completedAt, cancelledAt, nextStepAt sql.NullTime
		metadata                             []byte
	)
	if err := row.Scan(
		&e.ID, &e.SequenceID, &e.SubscriberID, &currentStepID, &e.Status,
		&e.EnrolledAt, &completedAt, &cancelledAt, &nextStepAt, &metadata, &e.Version,
		&e.FailureCount, &lastError,
	); err != nil {
		return nil, err
	}
	if currentStepID.Valid {
		e.CurrentStepID = &currentStepID.String
	}
	e.CompletedAt = nullTimePtr(completedAt)
	e.CancelledAt = nullTimePtr(cancelledAt)
	e.NextStepAt = nullTimePtr(nextStepAt)
	e.LastError = lastError.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode enrollment metadata: %w", err)
		}
	}
	return &e, nil
}

// prefixed qualifies every column in a comma separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// CreateEnrollment inserts an active enrollment that is due immediately.
func (r *EnrollmentRepo) CreateEnrollment(ctx context.Context, sequenceID, subscriberID string, metadata map[string]any) (*domain.SequenceEnrollment, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode enrollment metadata: %w", err)
	}

	now := time.Now().UTC()
	e := &domain.SequenceEnrollment{
		ID:           uuid.New().String(),
		SequenceID:   sequenceID,
		SubscriberID: subscriberID,
		Status:       domain.EnrollmentActive,
		EnrolledAt:   now,
		NextStepAt:   &now,
		Metadata:     metadata,
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_sequence_enrollments
			(id, sequence_id, subscriber_id, status, enrolled_at, next_step_at, metadata, version)
		VALUES ($1, $2, $3, 'active', $4, $4, $5, 0)
		ON CONFLICT (sequence_id, subscriber_id) DO NOTHING
	`, e.ID, sequenceID, subscriberID, now, meta)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, sequence.ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	if n == 0 {
		return nil, sequence.ErrAlreadyEnrolled
	}
	return e, nil
}

func (r *EnrollmentRepo) GetEnrollment(ctx context.Context, id string) (*domain.SequenceEnrollment, error) {
	e, err := scanEnrollment(r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM mailing_sequence_enrollments
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequence.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

// GetDueEnrollments returns active enrollments of active sequences whose
// next_step_at has passed, never-processed rows first. Enrollments of paused,
// draft or archived sequences are left out so they cannot fill the batch.
// Pages are keyed on (next_step_at, id); after is nil for the first page.
func (r *EnrollmentRepo) GetDueEnrollments(ctx context.Context, now time.Time, after *sequence.DueCursor, limit int) ([]domain.SequenceEnrollment, error) {
	var afterAt any
	afterID := ""
	if after != nil {
		afterID = after.ID
		if after.NextStepAt != nil {
			afterAt = *after.NextStepAt
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixed("e.", enrollmentColumns)+`
		FROM mailing_sequence_enrollments e
		JOIN mailing_sequences s ON s.id = e.sequence_id
		WHERE e.status = 'active'
		  AND s.status = 'active'
		  AND (e.next_step_at IS NULL OR e.next_step_at <= $1)
		  AND (COALESCE(e.next_step_at, '-infinity'::timestamptz), e.id::text)
		      > (COALESCE($2::timestamptz, '-infinity'::timestamptz), $3)
		ORDER BY e.next_step_at ASC NULLS FIRST, e.id::text ASC
		LIMIT $4
	`, now, afterAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list due enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.SequenceEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due enrollments: %w", err)
	}
	return out, nil
}

func (r *EnrollmentRepo) UpdateEnrollmentProgress(ctx context.Context, id string, expectedVersion int64, currentStepID *string, nextStepAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_sequence_enrollments
		SET current_step_id = $3, next_step_at = $4, failure_count = 0, last_error = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'active'
	`, id, expectedVersion, currentStepID, nextStepAt)
	if err != nil {
		return fmt.Errorf("update enrollment progress: %w", err)
	}
	return expectOneRow(res)
}

// DeferEnrollment records a failed pass: the current step stays put and the
// row is not due again until retryAt.
func (r *EnrollmentRepo) DeferEnrollment(ctx context.Context, id string, expectedVersion int64, failureCount int, lastError string, retryAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_sequence_enrollments
		SET next_step_at = $3, failure_count = $4, last_error = NULLIF($5, ''),
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'active'
	`, id, expectedVersion, retryAt, failureCount, lastError)
	if err != nil {
		return fmt.Errorf("defer enrollment: %w", err)
	}
	return expectOneRow(res)
}

func (r *EnrollmentRepo) CompleteEnrollment(ctx context.Context, id string, expectedVersion int64, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_sequence_enrollments
		SET status = 'completed', completed_at = $3, next_step_at = NULL,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'active'
	`, id, expectedVersion, completedAt)
	if err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	return expectOneRow(res)
}

func (r *EnrollmentRepo) AppendStepLog(ctx context.Context, enrollmentID, stepID string, status domain.StepLogStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_sequence_step_logs (id, enrollment_id, step_id, status, error, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
	`, uuid.New().String(), enrollmentID, stepID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("append step log: %w", err)
	}
	return nil
}

// expectOneRow maps a compare-and-swap update that touched nothing to
// ErrStaleEnrollment.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sequence.ErrStaleEnrollment
	}
	return nil
}
