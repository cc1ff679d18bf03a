package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/openarquivo/fichas-api/internal/models"
)

// AttachmentRepository persists attachments and their OCR outcome.
type AttachmentRepository interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByFicha(ctx context.Context, fichaID string) ([]*models.Attachment, error)
	FindByFichaAndKey(ctx context.Context, fichaID, storageKey string) (*models.Attachment, error)
	UpdateOCRStatus(ctx context.Context, id string, status models.OCRStatus, recognizedFields, mergedFields int, reviewFields []string) error
}

type attachmentRepository struct {
	db *sqlx.DB
}

func NewAttachmentRepository(db *sqlx.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

const attachmentColumns = `id, ficha_id, filename, mime_type, size, storage_key, page_count, ocr_status, recognized_fields, merged_fields, review_fields_json, created_at`

func (r *attachmentRepository) Create(ctx context.Context, att *models.Attachment) error {
	reviewJSON, err := marshalReviewFields(att.ReviewFields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO attachments (` + attachmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		att.ID,
		att.FichaID,
		att.Filename,
		att.MimeType,
		att.Size,
		att.StorageKey,
		att.PageCount,
		att.OCRStatus,
		att.RecognizedFields,
		att.MergedFields,
		reviewJSON,
		att.CreatedAt,
	)

	return err
}

func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1`
	return scanAttachment(r.db.QueryRowContext(ctx, query, id))
}

func (r *attachmentRepository) FindByFichaAndKey(ctx context.Context, fichaID, storageKey string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE ficha_id = $1 AND storage_key = $2`
	return scanAttachment(r.db.QueryRowContext(ctx, query, fichaID, storageKey))
}

func (r *attachmentRepository) ListByFicha(ctx context.Context, fichaID string) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE ficha_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, fichaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

func (r *attachmentRepository) UpdateOCRStatus(ctx context.Context, id string, status models.OCRStatus, recognizedFields, mergedFields int, reviewFields []string) error {
	reviewJSON, err := marshalReviewFields(reviewFields)
	if err != nil {
		return err
	}

	query := `
		UPDATE attachments
		SET ocr_status = $2, recognized_fields = $3, merged_fields = $4, review_fields_json = $5
		WHERE id = $1
	`

	_, err = r.db.ExecContext(ctx, query, id, status, recognizedFields, mergedFields, reviewJSON)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	var att models.Attachment
	var status string
	var reviewJSON string

	err := row.Scan(
		&att.ID,
		&att.FichaID,
		&att.Filename,
		&att.MimeType,
		&att.Size,
		&att.StorageKey,
		&att.PageCount,
		&status,
		&att.RecognizedFields,
		&att.MergedFields,
		&reviewJSON,
		&att.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	att.OCRStatus = models.OCRStatus(status)
	if reviewJSON != "" {
		if err := json.Unmarshal([]byte(reviewJSON), &att.ReviewFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review fields: %w", err)
		}
	}

	return &att, nil
}

func marshalReviewFields(fields []string) (string, error) {
	if fields == nil {
		fields = []string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal review fields: %w", err)
	}
	return string(data), nil
}
