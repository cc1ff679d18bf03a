package models

import (
	"time"
)

// AuditEntry records one mutation of a ficha or template. Entries are
// append-only; nothing in the system updates or deletes them.
type AuditEntry struct {
	ID         string    `json:"id" db:"id"`
	EntityKind string    `json:"entity_kind" db:"entity_kind"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Action     string    `json:"action" db:"action"`
	Detail     string    `json:"detail" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const (
	AuditEntityFicha    = "ficha"
	AuditEntityTemplate = "template"
)

const (
	AuditActionCreated           = "created"
	AuditActionFieldsUpdated     = "fields_updated"
	AuditActionStatusChanged     = "status_changed"
	AuditActionAttachmentAdded   = "attachment_added"
	AuditActionTemplatePublished = "published"
)
