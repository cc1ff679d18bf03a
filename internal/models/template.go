package models

import (
	"time"
)

// FieldType enumerates the value types a template field can declare.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldDate    FieldType = "date"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldChoice  FieldType = "choice"
)

// ParseFieldType returns the FieldType for s, reporting whether s names a
// known type.
func ParseFieldType(s string) (FieldType, bool) {
	switch FieldType(s) {
	case FieldText, FieldDate, FieldNumber, FieldBoolean, FieldChoice:
		return FieldType(s), true
	}
	return "", false
}

// BBox is an approximate rectangle in PDF user-space coordinates.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// OCRHint carries optional per-field recognition hints.
type OCRHint struct {
	Language string `json:"language,omitempty"`
	Region   *BBox  `json:"region,omitempty"`
}

// FieldSpec describes one field of a template. Immutable once its template
// is published.
type FieldSpec struct {
	Name     string    `json:"name"`
	Label    string    `json:"label,omitempty"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
	Page     int       `json:"page"`
	BBox     BBox      `json:"bbox"`
	OCRHint  *OCRHint  `json:"ocr_hint,omitempty"`
}

// Template is a published, versioned field schema. Versions are monotonically
// increasing per name and never mutated after publish.
type Template struct {
	Name        string      `json:"name" db:"name"`
	Version     int         `json:"version" db:"version"`
	Description string      `json:"description,omitempty" db:"description"`
	SourcePDF   string      `json:"source_pdf,omitempty" db:"source_pdf"`
	Fields      []FieldSpec `json:"fields"`
	PublishedAt time.Time   `json:"published_at" db:"published_at"`
}

// Field returns the spec for name, reporting whether it exists.
func (t *Template) Field(name string) (*FieldSpec, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// RequiredFields returns the names of all required fields in template order.
func (t *Template) RequiredFields() []string {
	var names []string
	for _, f := range t.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// SameFields reports whether both templates declare an identical field set
// (name, type, required flag and options, in order). Used to detect no-op
// duplicate publishes; geometry differences alone do not count as a new
// field set.
func (t *Template) SameFields(other *Template) bool {
	if other == nil || len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.Fields {
		a, b := t.Fields[i], other.Fields[i]
		if a.Name != b.Name || a.Type != b.Type || a.Required != b.Required {
			return false
		}
		if len(a.Options) != len(b.Options) {
			return false
		}
		for j := range a.Options {
			if a.Options[j] != b.Options[j] {
				return false
			}
		}
	}
	return true
}
