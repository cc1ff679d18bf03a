package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/repository"
)

// Registry stores published, versioned, immutable templates. Publish is the
// only write path; published templates are cached in memory since they can
// never change, so reads never block on a publish in progress.
type Registry struct {
	repo repository.TemplateRepository

	mu     sync.RWMutex
	byKey  map[string]*models.Template // "name@version"
	latest map[string]int              // name -> highest published version
}

func New(repo repository.TemplateRepository) *Registry {
	return &Registry{
		repo:   repo,
		byKey:  make(map[string]*models.Template),
		latest: make(map[string]int),
	}
}

func key(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}

// Publish assigns the next version number for the template's name and stores
// it immutably. Publishing a field set identical to the current latest version
// is a no-op that returns the existing template.
func (r *Registry) Publish(ctx context.Context, tmpl *models.Template) (*models.Template, error) {
	if len(tmpl.Fields) == 0 {
		return nil, &models.TemplateValidationError{Violations: []string{"template has no fields"}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	latest, err := r.latestLocked(ctx, tmpl.Name)
	if err != nil {
		return nil, err
	}

	if latest != nil && latest.SameFields(tmpl) {
		return latest, nil
	}

	published := &models.Template{
		Name:        tmpl.Name,
		Version:     1,
		Description: tmpl.Description,
		SourcePDF:   tmpl.SourcePDF,
		Fields:      append([]models.FieldSpec(nil), tmpl.Fields...),
		PublishedAt: time.Now(),
	}
	if latest != nil {
		published.Version = latest.Version + 1
	}

	if err := r.repo.Insert(ctx, published); err != nil {
		return nil, fmt.Errorf("failed to store template: %w", err)
	}

	r.byKey[key(published.Name, published.Version)] = published
	r.latest[published.Name] = published.Version

	return published, nil
}

// Get resolves a specific published version.
func (r *Registry) Get(ctx context.Context, name string, version int) (*models.Template, error) {
	r.mu.RLock()
	cached := r.byKey[key(name, version)]
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	tmpl, err := r.repo.Get(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		return nil, &models.TemplateNotFoundError{Name: name, Version: version}
	}

	r.mu.Lock()
	r.byKey[key(name, version)] = tmpl
	if version > r.latest[name] {
		r.latest[name] = version
	}
	r.mu.Unlock()

	return tmpl, nil
}

// GetLatest resolves the highest published version for name.
func (r *Registry) GetLatest(ctx context.Context, name string) (*models.Template, error) {
	tmpl, err := r.repo.GetLatest(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil {
		return nil, &models.TemplateNotFoundError{Name: name}
	}

	r.mu.Lock()
	r.byKey[key(tmpl.Name, tmpl.Version)] = tmpl
	if tmpl.Version > r.latest[name] {
		r.latest[name] = tmpl.Version
	}
	r.mu.Unlock()

	return tmpl, nil
}

func (r *Registry) latestLocked(ctx context.Context, name string) (*models.Template, error) {
	if v, ok := r.latest[name]; ok {
		if tmpl := r.byKey[key(name, v)]; tmpl != nil {
			return tmpl, nil
		}
	}
	tmpl, err := r.repo.GetLatest(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest template: %w", err)
	}
	return tmpl, nil
}
