package mapper

import (
	"strings"
	"testing"

	"github.com/openarquivo/fichas-api/internal/extractor"
	"github.com/openarquivo/fichas-api/internal/models"
)

func sampleDraft() *extractor.DraftSchema {
	return &extractor.DraftSchema{
		Name: "ficha-socioeconomica",
		Fields: []extractor.DraftField{
			{FieldSpec: models.FieldSpec{Name: "nome", Type: models.FieldText}, Confidence: 0.9},
			{FieldSpec: models.FieldSpec{Name: "data_nascimento", Type: models.FieldDate}, Confidence: 0.9},
			{FieldSpec: models.FieldSpec{Name: "renda", Type: models.FieldText}, Confidence: 0.4, NeedsReview: true},
		},
	}
}

func TestApplyOverrides(t *testing.T) {
	tmpl, err := Apply(sampleDraft(), Overrides{
		Renames:  map[string]string{"nome": "nome_completo"},
		Types:    map[string]string{"renda": "number"},
		Required: map[string]bool{"nome": true},
		Add: []models.FieldSpec{
			{Name: "estado_civil", Type: models.FieldChoice, Options: []string{"solteiro", "casado"}},
		},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(tmpl.Fields) != 4 {
		t.Fatalf("got %d fields, want 4", len(tmpl.Fields))
	}

	spec, ok := tmpl.Field("nome_completo")
	if !ok {
		t.Fatal("renamed field nome_completo missing")
	}
	if !spec.Required {
		t.Error("required override not applied to renamed field")
	}

	renda, ok := tmpl.Field("renda")
	if !ok || renda.Type != models.FieldNumber {
		t.Errorf("renda type = %v, want number", renda)
	}
}

func TestApplyRemove(t *testing.T) {
	tmpl, err := Apply(sampleDraft(), Overrides{Remove: []string{"renda"}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, ok := tmpl.Field("renda"); ok {
		t.Error("removed field still present")
	}
}

func TestApplyCollectsAllViolations(t *testing.T) {
	draft := sampleDraft()

	_, err := Apply(draft, Overrides{
		Renames: map[string]string{"inexistente": "x"},
		Types:   map[string]string{"renda": "geolocation"},
		Add: []models.FieldSpec{
			{Name: "nome", Type: models.FieldText},    // duplicate
			{Name: "turma", Type: models.FieldChoice}, // choice without options
		},
	})
	if err == nil {
		t.Fatal("Apply accepted invalid overrides")
	}

	verr, ok := err.(*models.TemplateValidationError)
	if !ok {
		t.Fatalf("error is %T, want *TemplateValidationError", err)
	}
	if len(verr.Violations) != 4 {
		t.Errorf("got %d violations, want 4: %v", len(verr.Violations), verr.Violations)
	}
	joined := strings.Join(verr.Violations, "\n")
	for _, want := range []string{"unknown field", "unknown type", "duplicate", "no options"} {
		if !strings.Contains(joined, want) {
			t.Errorf("violations missing %q:\n%s", want, joined)
		}
	}
}

func TestApplyEmptyResultRejected(t *testing.T) {
	draft := &extractor.DraftSchema{Name: "vazia"}
	if _, err := Apply(draft, Overrides{}); err == nil {
		t.Error("Apply accepted a template with no fields")
	}
}
