package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// DateLayout is the canonical wire format for date field values.
const DateLayout = "2006-01-02"

// FieldValue is a tagged union over the field type enum. Exactly one of the
// value members is meaningful, selected by Type.
type FieldValue struct {
	Type    FieldType
	Text    string
	Number  float64
	Boolean bool
	Date    time.Time
	Choice  string
}

func TextValue(s string) FieldValue    { return FieldValue{Type: FieldText, Text: s} }
func NumberValue(n float64) FieldValue { return FieldValue{Type: FieldNumber, Number: n} }
func BooleanValue(b bool) FieldValue   { return FieldValue{Type: FieldBoolean, Boolean: b} }
func DateValue(t time.Time) FieldValue { return FieldValue{Type: FieldDate, Date: t} }
func ChoiceValue(s string) FieldValue  { return FieldValue{Type: FieldChoice, Choice: s} }

// Native returns the JSON-native representation of the value.
func (v FieldValue) Native() any {
	switch v.Type {
	case FieldText:
		return v.Text
	case FieldNumber:
		return v.Number
	case FieldBoolean:
		return v.Boolean
	case FieldDate:
		return v.Date.Format(DateLayout)
	case FieldChoice:
		return v.Choice
	}
	return nil
}

// Equal reports whether two values have the same type and content.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case FieldText:
		return v.Text == o.Text
	case FieldNumber:
		return v.Number == o.Number
	case FieldBoolean:
		return v.Boolean == o.Boolean
	case FieldDate:
		return v.Date.Equal(o.Date)
	case FieldChoice:
		return v.Choice == o.Choice
	}
	return false
}

type taggedValue struct {
	Type  FieldType `json:"type"`
	Value any       `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...} so stored
// fields remain self-describing without the owning template at hand.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: v.Type, Value: v.Native()})
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var tagged taggedValue
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if _, ok := ParseFieldType(string(tagged.Type)); !ok {
		return fmt.Errorf("unknown field value type %q", tagged.Type)
	}
	parsed, err := coerceValue(tagged.Type, tagged.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseFieldValue validates a JSON-decoded raw value against spec and returns
// the typed representation. The error message names the field.
func ParseFieldValue(spec FieldSpec, raw any) (FieldValue, error) {
	v, err := coerceValue(spec.Type, raw)
	if err != nil {
		return FieldValue{}, fmt.Errorf("field %q: %w", spec.Name, err)
	}
	if spec.Type == FieldChoice && len(spec.Options) > 0 {
		ok := false
		for _, opt := range spec.Options {
			if opt == v.Choice {
				ok = true
				break
			}
		}
		if !ok {
			return FieldValue{}, fmt.Errorf("field %q: value %q is not one of the allowed options", spec.Name, v.Choice)
		}
	}
	return v, nil
}

func coerceValue(ft FieldType, raw any) (FieldValue, error) {
	switch ft {
	case FieldText:
		s, ok := raw.(string)
		if !ok {
			return FieldValue{}, fmt.Errorf("expected text, got %T", raw)
		}
		return TextValue(s), nil
	case FieldNumber:
		n, ok := raw.(float64)
		if !ok {
			return FieldValue{}, fmt.Errorf("expected number, got %T", raw)
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return FieldValue{}, fmt.Errorf("number is not finite")
		}
		return NumberValue(n), nil
	case FieldBoolean:
		b, ok := raw.(bool)
		if !ok {
			return FieldValue{}, fmt.Errorf("expected boolean, got %T", raw)
		}
		return BooleanValue(b), nil
	case FieldDate:
		s, ok := raw.(string)
		if !ok {
			return FieldValue{}, fmt.Errorf("expected date string, got %T", raw)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return FieldValue{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
		}
		return DateValue(t), nil
	case FieldChoice:
		s, ok := raw.(string)
		if !ok {
			return FieldValue{}, fmt.Errorf("expected choice string, got %T", raw)
		}
		return ChoiceValue(s), nil
	}
	return FieldValue{}, fmt.Errorf("unknown field type %q", ft)
}

// Fields maps field names to typed values.
type Fields map[string]FieldValue

// Clone returns a shallow copy of the map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ParseFields validates every entry of raw against the template: unknown field
// names are rejected rather than dropped, and every value must match its
// FieldSpec type. All violations are collected into a single ValidationError.
func ParseFields(tmpl *Template, raw map[string]any) (Fields, error) {
	verr := &ValidationError{}
	out := make(Fields, len(raw))
	for name, value := range raw {
		spec, ok := tmpl.Field(name)
		if !ok {
			verr.Add(fmt.Sprintf("field %q is not defined by template %s v%d", name, tmpl.Name, tmpl.Version))
			continue
		}
		v, err := ParseFieldValue(*spec, value)
		if err != nil {
			verr.Add(err.Error())
			continue
		}
		out[name] = v
	}
	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return out, nil
}
