package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
	"github.com/ignite/sequence-engine/internal/sequence"
)

// SequenceRepo implements sequence.SequenceStore against PostgreSQL.
type SequenceRepo struct{ db *sql.DB }

// NewSequenceRepo creates a Postgres-backed sequence repository.
func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

const sequenceColumns = `id, owner_id, name, trigger_type, trigger_config, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSequence(row rowScanner) (*domain.Sequence, error) {
	var (
		s   domain.Sequence
		raw []byte
	)
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.TriggerType, &raw, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	cfg, err := domain.ParseTriggerConfig(s.TriggerType, raw)
	if err != nil {
		logger.Warn("malformed trigger config", "sequence_id", s.ID, "error", err)
		cfg = domain.InvalidConfig{Raw: raw, Err: err}
	}
	s.TriggerConfig = cfg
	return &s, nil
}

func (r *SequenceRepo) GetActiveSequencesByTrigger(ctx context.Context, ownerID string, triggerType domain.TriggerType) ([]domain.Sequence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sequenceColumns+`
		FROM mailing_sequences
		WHERE owner_id = $1 AND trigger_type = $2 AND status = 'active'
		ORDER BY created_at, id
	`, ownerID, string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("list sequences by trigger: %w", err)
	}
	defer rows.Close()

	var out []domain.Sequence
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sequences by trigger: %w", err)
	}
	return out, nil
}

func (r *SequenceRepo) GetSequence(ctx context.Context, id string) (*domain.Sequence, error) {
	s, err := scanSequence(r.db.QueryRowContext(ctx, `
		SELECT `+sequenceColumns+`
		FROM mailing_sequences
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequence.ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return s, nil
}

func (r *SequenceRepo) GetSequenceSteps(ctx context.Context, sequenceID string) ([]domain.SequenceStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sequence_id, COALESCE(name, ''), step_order, step_type,
		       delay_value, COALESCE(delay_unit, 'hours'), template_id,
		       COALESCE(subject, ''), conditions, action_config, created_at
		FROM mailing_sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_order, id
	`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list sequence steps: %w", err)
	}
	defer rows.Close()

	var out []domain.SequenceStep
	for rows.Next() {
		var (
			st                 domain.SequenceStep
			templateID         sql.NullString
			conditions, action []byte
		)
		if err := rows.Scan(
			&st.ID, &st.SequenceID, &st.Name, &st.StepOrder, &st.StepType,
			&st.DelayValue, &st.DelayUnit, &templateID,
			&st.Subject, &conditions, &action, &st.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sequence step: %w", err)
		}
		if templateID.Valid {
			id := templateID.String
			st.TemplateID = &id
		}

		st.Conditions, err = domain.ParseConditions(conditions)
		if err != nil {
			logger.Warn("malformed step conditions", "step_id", st.ID, "error", err)
		}
		st.Action, err = domain.ParseStepAction(st.StepType, action)
		if err != nil {
			logger.Warn("malformed step action config", "step_id", st.ID, "error", err)
			st.Action = domain.InvalidConfig{Raw: action, Err: err}
		}
		st.Normalize()
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sequence steps: %w", err)
	}
	return out, nil
}
