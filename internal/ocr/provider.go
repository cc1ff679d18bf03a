package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Request is one bounded recognition call for an attachment's pages.
type Request struct {
	Data          []byte
	MimeType      string
	MaxPages      int
	LanguageHints []string
}

// Line is one recognized text line with its confidence score in [0, 1].
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Page holds the recognition output for a single page.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
	Lines  []Line `json:"lines"`
}

// Result is the provider output for one attachment.
type Result struct {
	Pages []Page `json:"pages"`
}

// PagesProcessed reports how many pages the provider actually recognized.
func (r *Result) PagesProcessed() int {
	return len(r.Pages)
}

// Provider is the external recognition service contract. Recognize must honor
// ctx cancellation: the dispatcher wraps every call in a per-attempt timeout.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, req Request) (*Result, error)
}

// TransientError marks a provider failure worth retrying (timeouts, overload,
// network faults). Anything else is terminal for the attempt series.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ocr failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
