package ocr

import (
	"testing"
	"time"

	"github.com/openarquivo/fichas-api/internal/models"
)

func mappingTemplate() *models.Template {
	return &models.Template{
		Name:    "ficha-de-atendimento",
		Version: 1,
		Fields: []models.FieldSpec{
			{Name: "nome_completo", Type: models.FieldText, Label: "Nome Completo"},
			{Name: "data_nascimento", Type: models.FieldDate, Label: "Data de Nascimento"},
			{Name: "renda_mensal", Type: models.FieldNumber, Label: "Renda Mensal"},
			{Name: "possui_dependentes", Type: models.FieldBoolean, Label: "Possui Dependentes"},
			{Name: "estado_civil", Type: models.FieldChoice, Label: "Estado Civil", Options: []string{"Solteiro", "Casado"}},
		},
	}
}

func resultWithLines(lines ...Line) *Result {
	return &Result{Pages: []Page{{Number: 1, Lines: lines}}}
}

func TestMapFields(t *testing.T) {
	result := resultWithLines(
		Line{Text: "Nome Completo: Maria Aparecida dos Santos", Confidence: 0.95},
		Line{Text: "Data de Nascimento: 12/03/1987", Confidence: 0.92},
		Line{Text: "Renda Mensal: R$ 2.350,00", Confidence: 0.88},
		Line{Text: "Possui Dependentes: Sim", Confidence: 0.90},
		Line{Text: "Estado Civil: casado", Confidence: 0.85},
	)

	candidates := MapFields(result, mappingTemplate())
	if len(candidates) != 5 {
		t.Fatalf("got %d candidates, want 5: %+v", len(candidates), candidates)
	}

	byName := make(map[string]Candidate)
	for _, c := range candidates {
		byName[c.Name] = c
	}

	if got := byName["nome_completo"].Value.Text; got != "Maria Aparecida dos Santos" {
		t.Errorf("nome_completo = %q", got)
	}
	wantDate := time.Date(1987, 3, 12, 0, 0, 0, 0, time.UTC)
	if got := byName["data_nascimento"].Value.Date; !got.Equal(wantDate) {
		t.Errorf("data_nascimento = %v, want %v", got, wantDate)
	}
	if got := byName["renda_mensal"].Value.Number; got != 2350.00 {
		t.Errorf("renda_mensal = %v, want 2350", got)
	}
	if got := byName["possui_dependentes"].Value.Boolean; !got {
		t.Error("possui_dependentes = false, want true")
	}
	// choice values are canonicalized to the declared option spelling
	if got := byName["estado_civil"].Value.Choice; got != "Casado" {
		t.Errorf("estado_civil = %q, want Casado", got)
	}
}

func TestMapFieldsLabelNoise(t *testing.T) {
	// diacritics lost and casing mangled by recognition still match
	result := resultWithLines(
		Line{Text: "NOME COMPLETO : Jose Carlos", Confidence: 0.8},
		Line{Text: "data de nascimento: 1990-06-01", Confidence: 0.8},
	)

	candidates := MapFields(result, mappingTemplate())
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(candidates), candidates)
	}
}

func TestMapFieldsBestCandidateWins(t *testing.T) {
	result := resultWithLines(
		Line{Text: "Nome Completo: Jse Crlos", Confidence: 0.4},
		Line{Text: "Nome Completo: Jose Carlos", Confidence: 0.9},
	)

	candidates := MapFields(result, mappingTemplate())
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Value.Text != "Jose Carlos" || candidates[0].Confidence != 0.9 {
		t.Errorf("kept %+v, want the higher confidence reading", candidates[0])
	}
}

func TestMapFieldsDropsUnparseableValues(t *testing.T) {
	result := resultWithLines(
		Line{Text: "Data de Nascimento: ilegivel", Confidence: 0.9},
		Line{Text: "Renda Mensal: nao informada", Confidence: 0.9},
		Line{Text: "Estado Civil: divorciado", Confidence: 0.9},
	)

	if candidates := MapFields(result, mappingTemplate()); len(candidates) != 0 {
		t.Errorf("got %d candidates, want 0: %+v", len(candidates), candidates)
	}
}

func TestMapFieldsIgnoresUnknownLabels(t *testing.T) {
	result := resultWithLines(
		Line{Text: "Observacoes gerais: nada a declarar", Confidence: 0.9},
		Line{Text: "linha sem separador nenhum", Confidence: 0.9},
	)

	if candidates := MapFields(result, mappingTemplate()); len(candidates) != 0 {
		t.Errorf("got %d candidates, want 0: %+v", len(candidates), candidates)
	}
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"R$ 1.234,56", 1234.56, true},
		{"2.350,00", 2350, true},
		{"1500", 1500, true},
		{"12,5", 12.5, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		got, ok := parseDecimal(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseDecimal(%q) = %v, %v, want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
