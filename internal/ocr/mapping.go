package ocr

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/openarquivo/fichas-api/internal/models"

	"golang.org/x/text/unicode/norm"
)

// Candidate is one recognized field value with its confidence score, ready to
// be compared against the merge threshold.
type Candidate struct {
	Name       string
	Value      models.FieldValue
	Confidence float64
}

var (
	keyValuePattern = regexp.MustCompile(`^\s*([^:]{2,60})\s*:\s*(.+)$`)
	nonAlnumPattern = regexp.MustCompile(`[^a-z0-9\s]+`)
	spacesPattern   = regexp.MustCompile(`\s+`)
	yearPattern     = regexp.MustCompile(`(19|20)\d{2}`)
	numberCleanup   = regexp.MustCompile(`[^0-9.\-]`)
)

var dateLayouts = []string{"02/01/2006", "02-01-2006", "2006-01-02", "2006/01/02"}

// MapFields matches recognized text lines against the template's field labels
// and parses the values into typed candidates. For each field the highest
// confidence candidate wins. Values that cannot be parsed into the field's
// type are dropped rather than guessed.
func MapFields(result *Result, tmpl *models.Template) []Candidate {
	labels := buildLabelIndex(tmpl)

	best := make(map[string]Candidate)
	for _, page := range result.Pages {
		for _, line := range page.Lines {
			m := keyValuePattern.FindStringSubmatch(line.Text)
			if m == nil {
				continue
			}
			key, rawValue := normalizeLabel(m[1]), strings.TrimSpace(m[2])
			if rawValue == "" {
				continue
			}

			spec, conf := matchLabel(labels, key, line.Confidence)
			if spec == nil {
				continue
			}

			value, ok := parseRecognized(*spec, rawValue)
			if !ok {
				continue
			}

			if prev, exists := best[spec.Name]; !exists || conf > prev.Confidence {
				best[spec.Name] = Candidate{Name: spec.Name, Value: value, Confidence: conf}
			}
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, f := range tmpl.Fields {
		if c, ok := best[f.Name]; ok {
			out = append(out, c)
		}
	}
	return out
}

type labelEntry struct {
	normalized string
	spec       *models.FieldSpec
}

func buildLabelIndex(tmpl *models.Template) []labelEntry {
	var entries []labelEntry
	for i := range tmpl.Fields {
		spec := &tmpl.Fields[i]
		entries = append(entries, labelEntry{normalized: normalizeLabel(spec.Name), spec: spec})
		if spec.Label != "" {
			entries = append(entries, labelEntry{normalized: normalizeLabel(spec.Label), spec: spec})
		}
	}
	return entries
}

// matchLabel resolves a normalized line key to a field spec. Exact matches
// keep the line confidence; containment matches (one label inside the other)
// are discounted since they are weaker evidence.
func matchLabel(entries []labelEntry, key string, lineConf float64) (*models.FieldSpec, float64) {
	for _, e := range entries {
		if e.normalized == key {
			return e.spec, lineConf
		}
	}
	for _, e := range entries {
		if e.normalized == "" || key == "" {
			continue
		}
		if strings.Contains(key, e.normalized) || strings.Contains(e.normalized, key) {
			return e.spec, lineConf * 0.7
		}
	}
	return nil, 0
}

// normalizeLabel lowercases, strips diacritics and collapses punctuation so
// OCR noise in labels still matches the template.
func normalizeLabel(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r < 128 {
			b.WriteRune(r)
		}
	}
	out := strings.ToLower(strings.TrimSpace(b.String()))
	out = nonAlnumPattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(spacesPattern.ReplaceAllString(out, " "))
}

func parseRecognized(spec models.FieldSpec, raw string) (models.FieldValue, bool) {
	switch spec.Type {
	case models.FieldText:
		return models.TextValue(raw), true
	case models.FieldDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return models.DateValue(t), true
			}
		}
		return models.FieldValue{}, false
	case models.FieldNumber:
		if n, ok := parseDecimal(raw); ok {
			return models.NumberValue(n), true
		}
		if m := yearPattern.FindString(raw); m != "" {
			n, _ := strconv.ParseFloat(m, 64)
			return models.NumberValue(n), true
		}
		return models.FieldValue{}, false
	case models.FieldBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "sim", "true", "1", "yes", "x":
			return models.BooleanValue(true), true
		case "nao", "não", "false", "0", "no":
			return models.BooleanValue(false), true
		}
		return models.FieldValue{}, false
	case models.FieldChoice:
		normalized := normalizeLabel(raw)
		for _, opt := range spec.Options {
			if normalizeLabel(opt) == normalized {
				return models.ChoiceValue(opt), true
			}
		}
		return models.FieldValue{}, false
	}
	return models.FieldValue{}, false
}

// parseDecimal normalizes Brazilian currency/number formats: "R$ 1.234,56"
// becomes 1234.56.
func parseDecimal(raw string) (float64, bool) {
	cleaned := strings.ReplaceAll(raw, "R$", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	cleaned = numberCleanup.ReplaceAllString(cleaned, "")
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
