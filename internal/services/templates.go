package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openarquivo/fichas-api/internal/extractor"
	"github.com/openarquivo/fichas-api/internal/mapper"
	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/registry"
	"github.com/openarquivo/fichas-api/internal/repository"
	"github.com/openarquivo/fichas-api/internal/utils"
)

// TemplateService turns uploaded form PDFs into draft schemas and publishes
// reviewed drafts as immutable template versions.
type TemplateService interface {
	ExtractDraft(ctx context.Context, name string, pdfData []byte) (*extractor.DraftSchema, error)
	Publish(ctx context.Context, draft *extractor.DraftSchema, overrides mapper.Overrides) (*models.Template, error)
	Get(ctx context.Context, name string, version int) (*models.Template, error)
	GetLatest(ctx context.Context, name string) (*models.Template, error)
}

type templateService struct {
	registry  *registry.Registry
	extractor extractor.Config
	audit     repository.AuditLogRepository
	logger    *utils.Logger
}

func NewTemplateService(reg *registry.Registry, extractorCfg extractor.Config, audit repository.AuditLogRepository, logger *utils.Logger) TemplateService {
	return &templateService{
		registry:  reg,
		extractor: extractorCfg,
		audit:     audit,
		logger:    logger,
	}
}

func (s *templateService) ExtractDraft(ctx context.Context, name string, pdfData []byte) (*extractor.DraftSchema, error) {
	draft, err := extractor.ExtractDraft(pdfData, name, s.extractor)
	if err != nil {
		return nil, err
	}
	s.logger.Info("draft schema extracted",
		"template", draft.Name, "pages", draft.PageCount, "fields", len(draft.Fields))
	return draft, nil
}

func (s *templateService) Publish(ctx context.Context, draft *extractor.DraftSchema, overrides mapper.Overrides) (*models.Template, error) {
	tmpl, err := mapper.Apply(draft, overrides)
	if err != nil {
		return nil, err
	}

	published, err := s.registry.Publish(ctx, tmpl)
	if err != nil {
		return nil, err
	}

	detail, err := json.Marshal(map[string]any{
		"version": published.Version,
		"fields":  len(published.Fields),
	})
	if err != nil {
		detail = []byte("{}")
	}
	entry := &models.AuditEntry{
		ID:         utils.GenerateID(),
		EntityKind: models.AuditEntityTemplate,
		EntityID:   fmt.Sprintf("%s@%d", published.Name, published.Version),
		Action:     models.AuditActionTemplatePublished,
		Detail:     string(detail),
		CreatedAt:  time.Now(),
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to record audit entry", "template", published.Name, "error", err)
	}

	s.logger.Info("template published",
		"template", published.Name, "version", published.Version, "fields", len(published.Fields))
	return published, nil
}

func (s *templateService) Get(ctx context.Context, name string, version int) (*models.Template, error) {
	return s.registry.Get(ctx, name, version)
}

func (s *templateService) GetLatest(ctx context.Context, name string) (*models.Template, error) {
	return s.registry.GetLatest(ctx, name)
}
