package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/openarquivo/fichas-api/internal/models"
)

// AuditLogRepository persists the append-only mutation trail.
type AuditLogRepository interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
	ListByEntity(ctx context.Context, entityKind, entityID string) ([]*models.AuditEntry, error)
}

type auditLogRepository struct {
	db *sqlx.DB
}

func NewAuditLogRepository(db *sqlx.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, entity_kind, entity_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.EntityKind,
		entry.EntityID,
		entry.Action,
		entry.Detail,
		entry.CreatedAt,
	)

	return err
}

func (r *auditLogRepository) ListByEntity(ctx context.Context, entityKind, entityID string) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, entity_kind, entity_id, action, detail, created_at
		FROM audit_log
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, entityKind, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		err := rows.Scan(
			&entry.ID,
			&entry.EntityKind,
			&entry.EntityID,
			&entry.Action,
			&entry.Detail,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
