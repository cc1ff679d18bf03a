package extractor

import (
	"fmt"
	"time"

	"github.com/openarquivo/fichas-api/internal/models"
)

// UnsupportedDocumentError signals input the extractor cannot parse at all.
// Low-quality but parseable documents still produce a draft.
type UnsupportedDocumentError struct {
	Reason string
	Err    error
}

func (e *UnsupportedDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported document: %s: %v", e.Reason, e.Err)
	}
	return "unsupported document: " + e.Reason
}

func (e *UnsupportedDocumentError) Unwrap() error { return e.Err }

// DraftField is a candidate FieldSpec inferred from PDF layout, tagged with a
// heuristic confidence. Fields below the review threshold are flagged for
// mandatory manual review instead of being silently guessed.
type DraftField struct {
	models.FieldSpec
	Confidence  float64 `json:"confidence"`
	NeedsReview bool    `json:"needs_review"`
}

// DraftSchema is the unreviewed output of the extractor, input to the mapper.
type DraftSchema struct {
	Name        string       `json:"name"`
	SourcePDF   string       `json:"source_pdf"`
	PageCount   int          `json:"page_count"`
	Fields      []DraftField `json:"fields"`
	GeneratedAt time.Time    `json:"generated_at"`
}
