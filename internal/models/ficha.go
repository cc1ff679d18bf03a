package models

import (
	"time"
)

// FichaStatus is the lifecycle state of a ficha.
type FichaStatus string

const (
	StatusDraft      FichaStatus = "draft"
	StatusOCRPending FichaStatus = "ocr_pending"
	StatusOCRDone    FichaStatus = "ocr_done"
	StatusOCRFailed  FichaStatus = "ocr_failed"
	StatusReviewed   FichaStatus = "reviewed"
	StatusFinalized  FichaStatus = "finalized"
	StatusArchived   FichaStatus = "archived"
)

// ParseFichaStatus returns the status for s, reporting whether s is known.
func ParseFichaStatus(s string) (FichaStatus, bool) {
	switch FichaStatus(s) {
	case StatusDraft, StatusOCRPending, StatusOCRDone, StatusOCRFailed,
		StatusReviewed, StatusFinalized, StatusArchived:
		return FichaStatus(s), true
	}
	return "", false
}

// Terminal reports whether no further mutation is accepted from s.
func (s FichaStatus) Terminal() bool {
	return s == StatusFinalized || s == StatusArchived
}

var fichaTransitions = map[FichaStatus][]FichaStatus{
	StatusDraft:      {StatusOCRPending},
	StatusOCRPending: {StatusOCRDone, StatusOCRFailed},
	StatusOCRDone:    {StatusReviewed},
	StatusOCRFailed:  {StatusReviewed},
	StatusReviewed:   {StatusFinalized},
}

// CanTransition reports whether the lifecycle state machine allows s → to.
// Archived is reachable from any non-finalized state.
func (s FichaStatus) CanTransition(to FichaStatus) bool {
	if to == StatusArchived {
		return s != StatusFinalized && s != StatusArchived
	}
	for _, next := range fichaTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Ficha is a record bound to one template version. Revision is a monotonically
// increasing counter used for optimistic concurrency: a write carrying a stale
// revision is rejected instead of silently overwriting newer state.
type Ficha struct {
	ID              string      `json:"id" db:"id"`
	TemplateName    string      `json:"template_name" db:"template_name"`
	TemplateVersion int         `json:"template_version" db:"template_version"`
	Fields          Fields      `json:"fields"`
	Status          FichaStatus `json:"status" db:"status"`
	Revision        int64       `json:"revision" db:"revision"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// FichaFilter narrows and pages a ficha listing. Zero-valued members are not
// applied.
type FichaFilter struct {
	TemplateName string
	Status       FichaStatus
	Page         int
	PerPage      int
}

// FichaPage is one page of a filtered listing plus the total match count.
type FichaPage struct {
	Items   []*Ficha `json:"items"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	PerPage int      `json:"per_page"`
}

// MissingRequired returns the required fields of tmpl that have no value yet.
func (f *Ficha) MissingRequired(tmpl *Template) []string {
	var missing []string
	for _, name := range tmpl.RequiredFields() {
		if _, ok := f.Fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
