package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"
)

// minTextLayerChars is the point below which a PDF text layer is considered a
// scan artifact rather than usable born-digital text.
const minTextLayerChars = 40

type tesseractProvider struct {
	newClient func() *gosseract.Client
}

// NewTesseractProvider creates a local OCR provider backed by Tesseract.
// PDF inputs are served from their embedded text layer (confidence 1.0);
// image inputs go through Tesseract with per-line confidence scores.
func NewTesseractProvider() Provider {
	return &tesseractProvider{newClient: gosseract.NewClient}
}

func (p *tesseractProvider) Name() string { return "tesseract" }

func (p *tesseractProvider) Recognize(ctx context.Context, req Request) (*Result, error) {
	if isPDF(req.MimeType) {
		return extractTextLayer(req)
	}

	// gosseract calls block in C; run in a goroutine so the dispatcher's
	// timeout can abandon the attempt at this checkpoint.
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.recognizeImage(req)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.res, out.err
	}
}

func (p *tesseractProvider) recognizeImage(req Request) (*Result, error) {
	client := p.newClient()
	defer client.Close()

	if err := client.SetImageFromBytes(req.Data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(req.LanguageHints) > 0 {
		if err := client.SetLanguage(req.LanguageHints...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	var lines []Line
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err == nil {
		for _, box := range boxes {
			lineText := strings.TrimSpace(box.Word)
			if lineText == "" {
				continue
			}
			lines = append(lines, Line{Text: lineText, Confidence: box.Confidence / 100.0})
		}
	}
	if lines == nil {
		for _, lineText := range strings.Split(text, "\n") {
			if lineText = strings.TrimSpace(lineText); lineText != "" {
				lines = append(lines, Line{Text: lineText, Confidence: 0.5})
			}
		}
	}

	return &Result{Pages: []Page{{
		Number: 1,
		Text:   strings.TrimSpace(text),
		Lines:  lines,
	}}}, nil
}

// extractTextLayer reads the embedded text of a born-digital PDF. Scanned
// PDFs have no usable text layer and need the remote provider instead.
func extractTextLayer(req Request) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(req.Data), int64(len(req.Data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	numPages := reader.NumPage()
	if req.MaxPages > 0 && numPages > req.MaxPages {
		numPages = req.MaxPages
	}

	var pages []Page
	total := 0
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		total += len(text)

		var lines []Line
		for _, lineText := range strings.Split(text, "\n") {
			if lineText = strings.TrimSpace(lineText); lineText != "" {
				lines = append(lines, Line{Text: lineText, Confidence: 1.0})
			}
		}
		pages = append(pages, Page{Number: i, Text: text, Lines: lines})
	}

	if total < minTextLayerChars {
		return nil, fmt.Errorf("pdf has no usable text layer; scanned documents require the remote provider")
	}

	return &Result{Pages: pages}, nil
}

func isPDF(mimeType string) bool {
	return mimeType == "application/pdf" || mimeType == "application/x-pdf"
}
