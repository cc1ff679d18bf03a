package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/openarquivo/fichas-api/internal/models"
)

// TemplateRepository persists published templates. Rows are write-once: the
// registry never updates an existing (name, version) pair.
type TemplateRepository interface {
	Insert(ctx context.Context, tmpl *models.Template) error
	Get(ctx context.Context, name string, version int) (*models.Template, error)
	GetLatest(ctx context.Context, name string) (*models.Template, error)
}

type templateRepository struct {
	db *sqlx.DB
}

func NewTemplateRepository(db *sqlx.DB) TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) Insert(ctx context.Context, tmpl *models.Template) error {
	fieldsJSON, err := json.Marshal(tmpl.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal template fields: %w", err)
	}

	query := `
		INSERT INTO templates (name, version, description, source_pdf, fields_json, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		tmpl.Name,
		tmpl.Version,
		tmpl.Description,
		tmpl.SourcePDF,
		string(fieldsJSON),
		tmpl.PublishedAt,
	)

	return err
}

func (r *templateRepository) Get(ctx context.Context, name string, version int) (*models.Template, error) {
	query := `
		SELECT name, version, description, source_pdf, fields_json, published_at
		FROM templates
		WHERE name = $1 AND version = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name, version))
}

func (r *templateRepository) GetLatest(ctx context.Context, name string) (*models.Template, error) {
	query := `
		SELECT name, version, description, source_pdf, fields_json, published_at
		FROM templates
		WHERE name = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name))
}

func (r *templateRepository) scanOne(row *sql.Row) (*models.Template, error) {
	var tmpl models.Template
	var fieldsJSON string

	err := row.Scan(
		&tmpl.Name,
		&tmpl.Version,
		&tmpl.Description,
		&tmpl.SourcePDF,
		&fieldsJSON,
		&tmpl.PublishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &tmpl.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template fields: %w", err)
	}

	return &tmpl, nil
}
