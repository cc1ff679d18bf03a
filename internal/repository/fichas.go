package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openarquivo/fichas-api/internal/models"
)

// FichaRepository persists fichas. All mutating calls are revision-guarded:
// they report updated=false when the expected revision no longer matches, and
// the caller decides between ConflictError and NotFoundError.
type FichaRepository interface {
	Create(ctx context.Context, ficha *models.Ficha) error
	GetByID(ctx context.Context, id string) (*models.Ficha, error)
	List(ctx context.Context, filter models.FichaFilter) ([]*models.Ficha, int, error)
	UpdateFields(ctx context.Context, id string, expectedRevision int64, fields models.Fields) (updated bool, err error)
	UpdateStatus(ctx context.Context, id string, expectedRevision int64, status models.FichaStatus) (updated bool, err error)
}

type fichaRepository struct {
	db *sqlx.DB
}

func NewFichaRepository(db *sqlx.DB) FichaRepository {
	return &fichaRepository{db: db}
}

func (r *fichaRepository) Create(ctx context.Context, ficha *models.Ficha) error {
	fieldsJSON, err := json.Marshal(ficha.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal ficha fields: %w", err)
	}

	query := `
		INSERT INTO fichas (id, template_name, template_version, fields_json, status, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		ficha.ID,
		ficha.TemplateName,
		ficha.TemplateVersion,
		string(fieldsJSON),
		ficha.Status,
		ficha.Revision,
		ficha.CreatedAt,
		ficha.UpdatedAt,
	)

	return err
}

func (r *fichaRepository) GetByID(ctx context.Context, id string) (*models.Ficha, error) {
	var ficha models.Ficha
	var fieldsJSON string
	var status string

	query := `
		SELECT id, template_name, template_version, fields_json, status, revision, created_at, updated_at
		FROM fichas
		WHERE id = $1
	`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ficha.ID,
		&ficha.TemplateName,
		&ficha.TemplateVersion,
		&fieldsJSON,
		&status,
		&ficha.Revision,
		&ficha.CreatedAt,
		&ficha.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ficha.Status = models.FichaStatus(status)
	if err := json.Unmarshal([]byte(fieldsJSON), &ficha.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ficha fields: %w", err)
	}

	return &ficha, nil
}

// List returns one page of fichas matching the filter, newest first, together
// with the total match count. Page and PerPage must already be normalized by
// the caller.
func (r *fichaRepository) List(ctx context.Context, filter models.FichaFilter) ([]*models.Ficha, int, error) {
	where := ""
	var args []any
	if filter.TemplateName != "" {
		args = append(args, filter.TemplateName)
		where = fmt.Sprintf(" WHERE template_name = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		if where == "" {
			where = fmt.Sprintf(" WHERE status = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fichas"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, template_name, template_version, fields_json, status, revision, created_at, updated_at
		FROM fichas` + where + fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2)
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var fichas []*models.Ficha
	for rows.Next() {
		var ficha models.Ficha
		var fieldsJSON string
		var status string
		err := rows.Scan(
			&ficha.ID,
			&ficha.TemplateName,
			&ficha.TemplateVersion,
			&fieldsJSON,
			&status,
			&ficha.Revision,
			&ficha.CreatedAt,
			&ficha.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		ficha.Status = models.FichaStatus(status)
		if err := json.Unmarshal([]byte(fieldsJSON), &ficha.Fields); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal ficha fields: %w", err)
		}
		fichas = append(fichas, &ficha)
	}
	return fichas, total, rows.Err()
}

// UpdateFields applies the full replacement field map only if the stored
// revision still equals expectedRevision, incrementing the revision with the
// same statement. One UPDATE keeps check-and-set atomic without an explicit
// transaction.
func (r *fichaRepository) UpdateFields(ctx context.Context, id string, expectedRevision int64, fields models.Fields) (bool, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ficha fields: %w", err)
	}

	query := `
		UPDATE fichas
		SET fields_json = $3, revision = revision + 1, updated_at = $4
		WHERE id = $1 AND revision = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, expectedRevision, string(fieldsJSON), time.Now())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *fichaRepository) UpdateStatus(ctx context.Context, id string, expectedRevision int64, status models.FichaStatus) (bool, error) {
	query := `
		UPDATE fichas
		SET status = $3, revision = revision + 1, updated_at = $4
		WHERE id = $1 AND revision = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, expectedRevision, status, time.Now())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
