package extractor

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/openarquivo/fichas-api/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Config bounds draft extraction.
type Config struct {
	// MaxPages caps how many pages are scanned for fields. Zero means all.
	MaxPages int
	// ReviewThreshold flags fields whose heuristic confidence falls below it.
	ReviewThreshold float64
}

// DefaultConfig matches the behavior used by the template import tooling.
func DefaultConfig() Config {
	return Config{MaxPages: 10, ReviewThreshold: 0.6}
}

// ExtractDraft parses a PDF's text layout into a draft schema of candidate
// fields. It fails with UnsupportedDocumentError only when the document
// cannot be parsed at all; a parseable document always yields a draft, whose
// quality varies with the source.
func ExtractDraft(data []byte, name string, cfg Config) (*DraftSchema, error) {
	pageCount, err := countPages(data)
	if err != nil {
		return nil, &UnsupportedDocumentError{Reason: "not a readable PDF", Err: err}
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &UnsupportedDocumentError{Reason: "failed to open PDF", Err: err}
	}

	draft := &DraftSchema{
		Name:        name,
		SourcePDF:   name + ".pdf",
		PageCount:   pageCount,
		GeneratedAt: time.Now(),
	}

	maxPages := reader.NumPage()
	if cfg.MaxPages > 0 && maxPages > cfg.MaxPages {
		maxPages = cfg.MaxPages
	}

	seen := map[string]int{}
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		for _, row := range pageRows(page) {
			if isSectionHeading(row.text) {
				continue
			}
			for _, cand := range extractLabels(row.text) {
				draft.Fields = append(draft.Fields, buildField(cand, row, pageNum, seen, cfg))
			}
		}
	}

	return draft, nil
}

func countPages(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return n, nil
}

// textRow is one visual line of the page, reassembled from positioned glyphs.
type textRow struct {
	text     string
	y        float64
	x0, x1   float64
	fontSize float64
}

// pageRows groups the page's positioned text spans into visual rows. PDF text
// carries no line structure, so spans sharing a baseline (within a small Y
// tolerance) form one row, ordered left to right. Horizontal gaps wider than
// a threshold become column separators so multi-field lines stay splittable.
func pageRows(page pdf.Page) []textRow {
	content := page.Content()
	spans := content.Text
	if len(spans) == 0 {
		return nil
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Y != spans[j].Y {
			return spans[i].Y > spans[j].Y
		}
		return spans[i].X < spans[j].X
	})

	const yTolerance = 2.0
	const columnGap = 10.0

	var rows []textRow
	var current *textRow
	var prevEnd float64

	for _, span := range spans {
		if span.S == "" {
			continue
		}
		if current == nil || current.y-span.Y > yTolerance {
			rows = append(rows, textRow{})
			current = &rows[len(rows)-1]
			current.y = span.Y
			current.x0 = span.X
			current.fontSize = span.FontSize
			prevEnd = span.X
		} else if span.X-prevEnd > columnGap {
			current.text += "  "
		}
		current.text += span.S
		if end := span.X + span.W; end > current.x1 {
			current.x1 = end
		}
		prevEnd = span.X + span.W
	}

	return rows
}

func buildField(cand labelCandidate, row textRow, pageNum int, seen map[string]int, cfg Config) DraftField {
	name := slugify(cand.label)
	if n, ok := seen[name]; ok {
		seen[name] = n + 1
		name = fmt.Sprintf("%s_%d", name, n+1)
	} else {
		seen[name] = 1
	}

	ftype := inferType(cand.label)
	if cand.checkbox {
		ftype = models.FieldBoolean
	}

	conf := labelConfidence(cand)
	fontSize := row.fontSize
	if fontSize == 0 {
		fontSize = 10
	}

	return DraftField{
		FieldSpec: models.FieldSpec{
			Name:     name,
			Label:    cand.label,
			Type:     ftype,
			Required: false,
			Page:     pageNum,
			BBox: models.BBox{
				X0: row.x0,
				Y0: row.y - fontSize,
				X1: row.x1,
				Y1: row.y + fontSize,
			},
		},
		Confidence:  conf,
		NeedsReview: conf < cfg.ReviewThreshold,
	}
}
