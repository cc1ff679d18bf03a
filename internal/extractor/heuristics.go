package extractor

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/openarquivo/fichas-api/internal/models"

	"golang.org/x/text/unicode/norm"
)

var (
	slugPattern       = regexp.MustCompile(`[^a-z0-9]+`)
	underscorePattern = regexp.MustCompile(`^(.+?)_{3,}`)
	columnPattern     = regexp.MustCompile(`\s{2,}`)
	checkboxPattern   = regexp.MustCompile(`\(\s?\)|\[\s?\]`)
)

// slugify turns a human label into a field name: diacritics stripped, lowered,
// non-alphanumerics collapsed to underscores.
func slugify(text string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(text) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r < 128 {
			b.WriteRune(r)
		}
	}
	s := strings.ToLower(strings.TrimSpace(b.String()))
	s = strings.Trim(slugPattern.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "campo"
	}
	return s
}

// isSectionHeading detects all-caps headings so they are not mistaken for
// field labels.
func isSectionHeading(line string) bool {
	if len(line) < 3 || len(line) > 80 || len(strings.Fields(line)) > 10 {
		return false
	}
	var letters, upper int
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return false
	}
	return float64(upper)/float64(letters) >= 0.8
}

// inferType guesses a field type from its label vocabulary.
func inferType(label string) models.FieldType {
	lower := slugify(label)
	switch {
	case strings.Contains(lower, "data"):
		return models.FieldDate
	case containsAny(lower, "valor", "preco", "custo", "quantidade", "qtd", "idade", "ano"):
		return models.FieldNumber
	case strings.Contains(lower, "sim") && strings.Contains(lower, "nao"):
		return models.FieldBoolean
	}
	return models.FieldText
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// labelCandidate is a raw field label found on a line, with the heuristic that
// produced it.
type labelCandidate struct {
	label    string
	source   string // "colon", "underscore" or "checkbox"
	checkbox bool
}

// extractLabels finds candidate field labels on one text line. A line can hold
// several fields separated by column gaps ("Numero:   Data:"), a single
// fill-in rule ("Interessado_______"), or checkbox groups.
func extractLabels(line string) []labelCandidate {
	var out []labelCandidate

	for _, part := range columnPattern.Split(line, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, ":"); idx >= 2 {
			label := strings.TrimSpace(part[:idx])
			if len(label) >= 2 && len(label) <= 60 {
				out = append(out, labelCandidate{label: label, source: "colon", checkbox: checkboxPattern.MatchString(part)})
			}
			continue
		}
		if m := underscorePattern.FindStringSubmatch(part); m != nil {
			label := strings.TrimSpace(m[1])
			if len(label) >= 2 {
				out = append(out, labelCandidate{label: label, source: "underscore"})
			}
			continue
		}
		if checkboxPattern.MatchString(part) {
			label := strings.TrimSpace(checkboxPattern.ReplaceAllString(part, " "))
			if len(label) >= 2 && len(label) <= 60 {
				out = append(out, labelCandidate{label: label, source: "checkbox", checkbox: true})
			}
		}
	}

	return out
}

func labelConfidence(c labelCandidate) float64 {
	conf := 0.0
	switch c.source {
	case "colon":
		conf = 0.9
	case "underscore":
		conf = 0.7
	case "checkbox":
		conf = 0.75
	}
	if len(c.label) < 4 {
		conf -= 0.2
	}
	return conf
}
