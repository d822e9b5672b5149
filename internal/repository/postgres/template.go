package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/sequence"
)

// TemplateRepo implements sequence.TemplateStore against PostgreSQL.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

func (r *TemplateRepo) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var (
		t    domain.Template
		vars []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, COALESCE(subject, ''), COALESCE(html_content, ''),
		       COALESCE(text_content, ''), COALESCE(from_name, ''), COALESCE(from_email, ''),
		       COALESCE(reply_to, ''), variables, created_at, updated_at
		FROM mailing_templates
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.OwnerID, &t.Name, &t.Subject, &t.HTMLContent,
		&t.TextContent, &t.FromName, &t.FromEmail,
		&t.ReplyTo, &vars, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequence.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &t.Variables); err != nil {
			return nil, fmt.Errorf("decode template variables: %w", err)
		}
	}
	return &t, nil
}
