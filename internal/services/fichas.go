package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/ocr"
	"github.com/openarquivo/fichas-api/internal/repository"
	"github.com/openarquivo/fichas-api/internal/storage"
	"github.com/openarquivo/fichas-api/internal/utils"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// maxConflictRetries bounds the internal retry loops that resolve revision
// conflicts caused by concurrent OCR merges. Caller-supplied revisions are
// never retried; a stale one surfaces as ConflictError.
const maxConflictRetries = 5

// TemplateResolver resolves published templates. The registry satisfies it.
type TemplateResolver interface {
	Get(ctx context.Context, name string, version int) (*models.Template, error)
	GetLatest(ctx context.Context, name string) (*models.Template, error)
}

// OCRQueue is the slice of the OCR dispatcher the ficha service drives.
type OCRQueue interface {
	Enqueue(ctx context.Context, job ocr.Job) error
	CancelFicha(fichaID string)
}

// FichaService implements the ficha lifecycle: creation against a template,
// validated field updates with optimistic concurrency, state transitions, and
// attachment ingestion feeding the OCR pipeline. It also implements ocr.Store
// so the dispatcher can report outcomes back.
type FichaService interface {
	Create(ctx context.Context, templateName string, templateVersion int, fields map[string]any) (*models.Ficha, error)
	Get(ctx context.Context, id string) (*models.Ficha, error)
	List(ctx context.Context, filter models.FichaFilter) (*models.FichaPage, error)
	Update(ctx context.Context, id string, expectedRevision int64, patch map[string]any) (*models.Ficha, error)
	Transition(ctx context.Context, id string, expectedRevision int64, to models.FichaStatus) (*models.Ficha, error)
	AddAttachment(ctx context.Context, fichaID, filename string, data []byte) (*models.Attachment, error)
	ListAttachments(ctx context.Context, fichaID string) ([]*models.Attachment, error)
	AuditTrail(ctx context.Context, fichaID string) ([]*models.AuditEntry, error)
	ResolveTemplate(ctx context.Context, ficha *models.Ficha) (*models.Template, error)

	FichaSnapshot(ctx context.Context, fichaID string) (models.FichaStatus, *models.Template, error)
	MergeRecognized(ctx context.Context, fichaID string, values map[string]models.FieldValue) (int, error)
	CompleteAttachment(ctx context.Context, attachmentID string, outcome models.OCRStatus, recognizedFields, mergedFields int, reviewFields []string) error

	SetOCRQueue(q OCRQueue)
}

type fichaService struct {
	fichas      repository.FichaRepository
	attachments repository.AttachmentRepository
	templates   TemplateResolver
	blobs       storage.Storage
	audit       repository.AuditLogRepository
	queue       OCRQueue
	maxFileSize int64
	logger      *utils.Logger
}

func NewFichaService(
	fichas repository.FichaRepository,
	attachments repository.AttachmentRepository,
	templates TemplateResolver,
	blobs storage.Storage,
	audit repository.AuditLogRepository,
	maxFileSize int64,
	logger *utils.Logger,
) FichaService {
	return &fichaService{
		fichas:      fichas,
		attachments: attachments,
		templates:   templates,
		blobs:       blobs,
		audit:       audit,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// SetOCRQueue wires the dispatcher in after construction; the dispatcher needs
// the service as its store, so neither can be built first with the other.
func (s *fichaService) SetOCRQueue(q OCRQueue) {
	s.queue = q
}

func (s *fichaService) Create(ctx context.Context, templateName string, templateVersion int, rawFields map[string]any) (*models.Ficha, error) {
	tmpl, err := s.resolve(ctx, templateName, templateVersion)
	if err != nil {
		return nil, err
	}

	fields, err := models.ParseFields(tmpl, rawFields)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ficha := &models.Ficha{
		ID:              utils.GenerateID(),
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Fields:          fields,
		Status:          models.StatusDraft,
		Revision:        1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.fichas.Create(ctx, ficha); err != nil {
		return nil, fmt.Errorf("failed to create ficha: %w", err)
	}

	s.recordAudit(ctx, models.AuditEntityFicha, ficha.ID, models.AuditActionCreated, map[string]any{
		"template_name":    tmpl.Name,
		"template_version": tmpl.Version,
	})

	s.logger.Info("ficha created",
		"ficha_id", ficha.ID, "template", tmpl.Name, "template_version", tmpl.Version)
	return ficha, nil
}

// List returns one page of fichas. Out-of-range paging parameters are
// normalized rather than rejected.
func (s *fichaService) List(ctx context.Context, filter models.FichaFilter) (*models.FichaPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}

	items, total, err := s.fichas.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list fichas: %w", err)
	}
	if items == nil {
		items = []*models.Ficha{}
	}
	return &models.FichaPage{
		Items:   items,
		Total:   total,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}, nil
}

func (s *fichaService) Get(ctx context.Context, id string) (*models.Ficha, error) {
	ficha, err := s.fichas.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load ficha: %w", err)
	}
	if ficha == nil {
		return nil, &models.NotFoundError{Kind: "ficha", ID: id}
	}
	return ficha, nil
}

// Update applies a partial field patch. A nil patch value clears the field;
// everything else must validate against the template. The expected revision
// comes from the caller, so a conflict is returned rather than retried.
func (s *fichaService) Update(ctx context.Context, id string, expectedRevision int64, patch map[string]any) (*models.Ficha, error) {
	ficha, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ficha.Status.Terminal() {
		return nil, &models.ImmutableRecordError{FichaID: id, Status: ficha.Status}
	}

	tmpl, err := s.ResolveTemplate(ctx, ficha)
	if err != nil {
		return nil, err
	}

	next := ficha.Fields.Clone()
	verr := &models.ValidationError{}
	for name, raw := range patch {
		spec, ok := tmpl.Field(name)
		if !ok {
			verr.Add(fmt.Sprintf("field %q is not part of template %s@%d", name, tmpl.Name, tmpl.Version))
			continue
		}
		if raw == nil {
			delete(next, name)
			continue
		}
		value, err := models.ParseFieldValue(*spec, raw)
		if err != nil {
			verr.Add(err.Error())
			continue
		}
		next[name] = value
	}
	if len(verr.Violations) > 0 {
		return nil, verr
	}

	updated, err := s.fichas.UpdateFields(ctx, id, expectedRevision, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update ficha: %w", err)
	}
	if !updated {
		return nil, s.staleOrGone(ctx, id, expectedRevision)
	}

	changed := make([]string, 0, len(patch))
	for name := range patch {
		changed = append(changed, name)
	}
	sort.Strings(changed)
	s.recordAudit(ctx, models.AuditEntityFicha, id, models.AuditActionFieldsUpdated, map[string]any{
		"fields": changed,
	})

	return s.Get(ctx, id)
}

func (s *fichaService) Transition(ctx context.Context, id string, expectedRevision int64, to models.FichaStatus) (*models.Ficha, error) {
	ficha, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !ficha.Status.CanTransition(to) {
		return nil, &models.InvalidTransitionError{FichaID: id, From: ficha.Status, To: to}
	}

	if to == models.StatusFinalized {
		tmpl, err := s.ResolveTemplate(ctx, ficha)
		if err != nil {
			return nil, err
		}
		if missing := ficha.MissingRequired(tmpl); len(missing) > 0 {
			verr := &models.ValidationError{}
			for _, name := range missing {
				verr.Add(fmt.Sprintf("required field %q has no value", name))
			}
			return nil, verr
		}
	}

	updated, err := s.fichas.UpdateStatus(ctx, id, expectedRevision, to)
	if err != nil {
		return nil, fmt.Errorf("failed to transition ficha: %w", err)
	}
	if !updated {
		return nil, s.staleOrGone(ctx, id, expectedRevision)
	}

	if to == models.StatusArchived && s.queue != nil {
		s.queue.CancelFicha(id)
	}

	s.recordAudit(ctx, models.AuditEntityFicha, id, models.AuditActionStatusChanged, map[string]any{
		"from": ficha.Status,
		"to":   to,
	})

	s.logger.Info("ficha transitioned", "ficha_id", id, "from", ficha.Status, "to", to)
	return s.Get(ctx, id)
}

// AddAttachment stores the upload content-addressed, registers the attachment
// and enqueues OCR. Re-uploading identical bytes to the same ficha returns the
// existing attachment without a new OCR job.
func (s *fichaService) AddAttachment(ctx context.Context, fichaID, filename string, data []byte) (*models.Attachment, error) {
	ficha, err := s.Get(ctx, fichaID)
	if err != nil {
		return nil, err
	}
	if ficha.Status.Terminal() {
		return nil, &models.ImmutableRecordError{FichaID: fichaID, Status: ficha.Status}
	}

	if int64(len(data)) > s.maxFileSize {
		verr := &models.ValidationError{}
		verr.Add(fmt.Sprintf("file exceeds the %d byte limit", s.maxFileSize))
		return nil, verr
	}
	mimeType, err := sniffMimeType(data)
	if err != nil {
		verr := &models.ValidationError{}
		verr.Add(err.Error())
		return nil, verr
	}

	key, err := s.blobs.Put(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}

	if existing, err := s.attachments.FindByFichaAndKey(ctx, fichaID, key); err != nil {
		return nil, fmt.Errorf("failed to check for duplicate attachment: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	pageCount := 1
	if mimeType == "application/pdf" {
		pageCount, err = api.PageCount(bytes.NewReader(data), relaxedPDFConf())
		if err != nil {
			verr := &models.ValidationError{}
			verr.Add(fmt.Sprintf("unreadable PDF: %v", err))
			return nil, verr
		}
	}

	att := &models.Attachment{
		ID:         utils.GenerateID(),
		FichaID:    fichaID,
		Filename:   filename,
		MimeType:   mimeType,
		Size:       int64(len(data)),
		StorageKey: key,
		PageCount:  pageCount,
		OCRStatus:  models.OCRStatusPending,
		CreatedAt:  time.Now(),
	}
	if err := s.attachments.Create(ctx, att); err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}

	if s.queue != nil {
		job := ocr.Job{
			FichaID:      fichaID,
			AttachmentID: att.ID,
			StorageKey:   key,
			MimeType:     mimeType,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("failed to enqueue ocr job", "attachment_id", att.ID, "error", err)
		}
	}

	if ficha.Status == models.StatusDraft {
		if err := s.advanceStatus(ctx, fichaID, models.StatusDraft, models.StatusOCRPending); err != nil {
			s.logger.Error("failed to mark ficha ocr_pending", "ficha_id", fichaID, "error", err)
		}
	}

	s.recordAudit(ctx, models.AuditEntityFicha, fichaID, models.AuditActionAttachmentAdded, map[string]any{
		"attachment_id": att.ID,
		"filename":      filename,
		"mime_type":     mimeType,
	})

	s.logger.Info("attachment added",
		"ficha_id", fichaID, "attachment_id", att.ID, "mime_type", mimeType, "pages", pageCount)
	return att, nil
}

func (s *fichaService) ListAttachments(ctx context.Context, fichaID string) ([]*models.Attachment, error) {
	if _, err := s.Get(ctx, fichaID); err != nil {
		return nil, err
	}
	atts, err := s.attachments.ListByFicha(ctx, fichaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return atts, nil
}

// AuditTrail returns the recorded mutations of a ficha, oldest first.
func (s *fichaService) AuditTrail(ctx context.Context, fichaID string) ([]*models.AuditEntry, error) {
	if _, err := s.Get(ctx, fichaID); err != nil {
		return nil, err
	}
	entries, err := s.audit.ListByEntity(ctx, models.AuditEntityFicha, fichaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return entries, nil
}

// recordAudit appends to the audit trail. A failed insert is logged, not
// surfaced: the mutation it describes has already committed.
func (s *fichaService) recordAudit(ctx context.Context, entityKind, entityID, action string, detail map[string]any) {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		s.logger.Error("failed to marshal audit detail", "entity_id", entityID, "action", action, "error", err)
		detailJSON = []byte("{}")
	}
	entry := &models.AuditEntry{
		ID:         utils.GenerateID(),
		EntityKind: entityKind,
		EntityID:   entityID,
		Action:     action,
		Detail:     string(detailJSON),
		CreatedAt:  time.Now(),
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to record audit entry", "entity_id", entityID, "action", action, "error", err)
	}
}

// ResolveTemplate loads the template version the ficha was created against.
func (s *fichaService) ResolveTemplate(ctx context.Context, ficha *models.Ficha) (*models.Template, error) {
	return s.templates.Get(ctx, ficha.TemplateName, ficha.TemplateVersion)
}

// FichaSnapshot implements ocr.Store.
func (s *fichaService) FichaSnapshot(ctx context.Context, fichaID string) (models.FichaStatus, *models.Template, error) {
	ficha, err := s.Get(ctx, fichaID)
	if err != nil {
		return "", nil, err
	}
	tmpl, err := s.ResolveTemplate(ctx, ficha)
	if err != nil {
		return "", nil, err
	}
	return ficha.Status, tmpl, nil
}

// MergeRecognized implements ocr.Store. Recognized values never overwrite a
// field that already holds a value, whether set by a clerk or an earlier job.
// Revision conflicts with concurrent writers are retried internally.
func (s *fichaService) MergeRecognized(ctx context.Context, fichaID string, values map[string]models.FieldValue) (int, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		ficha, err := s.Get(ctx, fichaID)
		if err != nil {
			return 0, err
		}
		if ficha.Status.Terminal() {
			return 0, nil
		}

		next := ficha.Fields.Clone()
		merged := 0
		for name, value := range values {
			if _, set := next[name]; set {
				continue
			}
			next[name] = value
			merged++
		}
		if merged == 0 {
			return 0, nil
		}

		updated, err := s.fichas.UpdateFields(ctx, fichaID, ficha.Revision, next)
		if err != nil {
			return 0, fmt.Errorf("failed to merge recognized fields: %w", err)
		}
		if updated {
			return merged, nil
		}
	}
	return 0, &models.ConflictError{FichaID: fichaID}
}

// CompleteAttachment implements ocr.Store. When the outcome makes every
// attachment of the ficha terminal, the ficha advances to ocr_done if any job
// read at least one field with confidence and to ocr_failed otherwise. A
// confident reading counts even when the field already held a value and
// nothing new was written.
func (s *fichaService) CompleteAttachment(ctx context.Context, attachmentID string, outcome models.OCRStatus, recognizedFields, mergedFields int, reviewFields []string) error {
	att, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return fmt.Errorf("failed to load attachment: %w", err)
	}
	if att == nil {
		return &models.NotFoundError{Kind: "attachment", ID: attachmentID}
	}

	if err := s.attachments.UpdateOCRStatus(ctx, attachmentID, outcome, recognizedFields, mergedFields, reviewFields); err != nil {
		return fmt.Errorf("failed to record ocr outcome: %w", err)
	}

	atts, err := s.attachments.ListByFicha(ctx, att.FichaID)
	if err != nil {
		return fmt.Errorf("failed to list attachments: %w", err)
	}
	anyRecognized := false
	for _, a := range atts {
		status, recognized := a.OCRStatus, a.RecognizedFields
		if a.ID == attachmentID {
			status, recognized = outcome, recognizedFields
		}
		if !status.Terminal() {
			return nil
		}
		if status == models.OCRStatusDone && recognized > 0 {
			anyRecognized = true
		}
	}

	target := models.StatusOCRFailed
	if anyRecognized {
		target = models.StatusOCRDone
	}
	if err := s.advanceStatus(ctx, att.FichaID, models.StatusOCRPending, target); err != nil {
		return fmt.Errorf("failed to advance ficha after ocr: %w", err)
	}
	return nil
}

// advanceStatus moves a ficha from `from` to `to`, re-reading on revision
// conflicts. It gives up silently when the ficha has left `from`, since
// another writer already advanced it.
func (s *fichaService) advanceStatus(ctx context.Context, fichaID string, from, to models.FichaStatus) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		ficha, err := s.Get(ctx, fichaID)
		if err != nil {
			return err
		}
		if ficha.Status != from {
			return nil
		}
		updated, err := s.fichas.UpdateStatus(ctx, fichaID, ficha.Revision, to)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}
	}
	return &models.ConflictError{FichaID: fichaID}
}

// staleOrGone distinguishes a stale caller revision from a deleted record
// after a guarded update matched no row.
func (s *fichaService) staleOrGone(ctx context.Context, id string, expectedRevision int64) error {
	current, err := s.fichas.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reload ficha: %w", err)
	}
	if current == nil {
		return &models.NotFoundError{Kind: "ficha", ID: id}
	}
	return &models.ConflictError{FichaID: id, ExpectedRevision: expectedRevision}
}

func (s *fichaService) resolve(ctx context.Context, name string, version int) (*models.Template, error) {
	if version == 0 {
		return s.templates.GetLatest(ctx, name)
	}
	return s.templates.Get(ctx, name, version)
}

// sniffMimeType accepts PDFs and the raster formats the OCR engine reads.
func sniffMimeType(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "application/pdf", nil
	}
	detected := http.DetectContentType(data)
	switch {
	case detected == "image/png", detected == "image/jpeg", detected == "image/tiff":
		return detected, nil
	case strings.HasPrefix(detected, "image/"):
		return "", fmt.Errorf("unsupported image format %s", detected)
	}
	return "", fmt.Errorf("unsupported file type %s, expected PDF or image", detected)
}

func relaxedPDFConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
