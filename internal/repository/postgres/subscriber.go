package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/sequence"
)

// SubscriberRepo implements sequence.SubscriberStore against PostgreSQL.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

func (r *SubscriberRepo) GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error) {
	var (
		s      domain.Subscriber
		fields []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
		       status, COALESCE(tags, '{}'), custom_fields, created_at, updated_at
		FROM mailing_subscribers
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.OwnerID, &s.Email, &s.FirstName, &s.LastName,
		&s.Status, pq.Array(&s.Tags), &fields, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequence.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &s.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return &s, nil
}

func (r *SubscriberRepo) UpdateSubscriberTags(ctx context.Context, id string, tags []string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_subscribers SET tags = $2, updated_at = NOW() WHERE id = $1
	`, id, pq.Array(tags))
	if err != nil {
		return fmt.Errorf("update subscriber tags: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscriber tags: %w", err)
	}
	if n == 0 {
		return sequence.ErrSubscriberNotFound
	}
	return nil
}
