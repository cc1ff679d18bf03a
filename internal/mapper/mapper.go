package mapper

import (
	"fmt"

	"github.com/openarquivo/fichas-api/internal/extractor"
	"github.com/openarquivo/fichas-api/internal/models"
)

// Overrides are the manual corrections applied to a draft schema: renames,
// type fixes, required-flag toggles, and removed or added fields. Keys refer
// to the draft's field names.
type Overrides struct {
	Renames  map[string]string         `json:"renames,omitempty"`
	Types    map[string]string         `json:"types,omitempty"`
	Required map[string]bool           `json:"required,omitempty"`
	Options  map[string][]string       `json:"options,omitempty"`
	Remove   []string                  `json:"remove,omitempty"`
	Add      []models.FieldSpec        `json:"add,omitempty"`
	Hints    map[string]models.OCRHint `json:"hints,omitempty"`
}

// Apply merges the draft with the override set into a candidate canonical
// template. It collects every violation instead of stopping at the first, so
// a human can fix all issues in one pass; on any violation it fails with
// TemplateValidationError.
func Apply(draft *extractor.DraftSchema, ov Overrides) (*models.Template, error) {
	verr := &models.TemplateValidationError{}

	removed := make(map[string]bool, len(ov.Remove))
	for _, name := range ov.Remove {
		removed[name] = true
	}

	draftNames := make(map[string]bool, len(draft.Fields))
	for _, f := range draft.Fields {
		draftNames[f.Name] = true
	}
	checkTarget := func(kind, name string) {
		if !draftNames[name] {
			verr.Add(fmt.Sprintf("%s override targets unknown field %q", kind, name))
		}
	}
	for name := range ov.Renames {
		checkTarget("rename", name)
	}
	for name := range ov.Types {
		checkTarget("type", name)
	}
	for name := range ov.Required {
		checkTarget("required", name)
	}
	for name := range ov.Options {
		checkTarget("options", name)
	}
	for _, name := range ov.Remove {
		checkTarget("remove", name)
	}
	for name := range ov.Hints {
		checkTarget("hint", name)
	}

	var fields []models.FieldSpec
	for _, df := range draft.Fields {
		if removed[df.Name] {
			continue
		}
		spec := df.FieldSpec

		if newName, ok := ov.Renames[df.Name]; ok {
			spec.Name = newName
		}
		if typeName, ok := ov.Types[df.Name]; ok {
			ftype, valid := models.ParseFieldType(typeName)
			if !valid {
				verr.Add(fmt.Sprintf("field %q: unknown type %q", spec.Name, typeName))
			} else {
				spec.Type = ftype
			}
		}
		if req, ok := ov.Required[df.Name]; ok {
			spec.Required = req
		}
		if opts, ok := ov.Options[df.Name]; ok {
			spec.Options = append([]string(nil), opts...)
		}
		if hint, ok := ov.Hints[df.Name]; ok {
			h := hint
			spec.OCRHint = &h
		}

		fields = append(fields, spec)
	}

	for _, spec := range ov.Add {
		if _, valid := models.ParseFieldType(string(spec.Type)); !valid {
			verr.Add(fmt.Sprintf("added field %q: unknown type %q", spec.Name, spec.Type))
		}
		fields = append(fields, spec)
	}

	seen := make(map[string]bool, len(fields))
	for _, spec := range fields {
		if spec.Name == "" {
			verr.Add("field with empty name")
			continue
		}
		if seen[spec.Name] {
			verr.Add(fmt.Sprintf("duplicate field name %q", spec.Name))
		}
		seen[spec.Name] = true
		if spec.Type == models.FieldChoice && len(spec.Options) == 0 {
			verr.Add(fmt.Sprintf("choice field %q has no options", spec.Name))
		}
	}

	if len(fields) == 0 {
		verr.Add("template has no fields")
	}

	if len(verr.Violations) > 0 {
		return nil, verr
	}

	return &models.Template{
		Name:      draft.Name,
		SourcePDF: draft.SourcePDF,
		Fields:    fields,
	}, nil
}
