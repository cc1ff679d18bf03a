package models

import (
	"time"
)

// OCRStatus is the recognition state of an attachment, folded in from the
// terminal outcome of its OCR job.
type OCRStatus string

const (
	OCRStatusPending    OCRStatus = "pending"
	OCRStatusProcessing OCRStatus = "processing"
	OCRStatusDone       OCRStatus = "done"
	OCRStatusFailed     OCRStatus = "failed"
	OCRStatusCanceled   OCRStatus = "canceled"
)

// Terminal reports whether the status is a final, non-retryable outcome.
func (s OCRStatus) Terminal() bool {
	return s == OCRStatusDone || s == OCRStatusFailed || s == OCRStatusCanceled
}

// Attachment is a content-addressed blob linked to a ficha. StorageKey is the
// sha256 of the bytes; two uploads with identical bytes share one key and the
// second upload is a no-op.
// RecognizedFields counts values read at or above the confidence threshold;
// MergedFields counts how many of those were actually written. They differ
// when a field already held a value, so recognition succeeded but nothing
// new was stored.
type Attachment struct {
	ID               string    `json:"id" db:"id"`
	FichaID          string    `json:"ficha_id" db:"ficha_id"`
	Filename         string    `json:"filename" db:"filename"`
	MimeType         string    `json:"mime_type" db:"mime_type"`
	Size             int64     `json:"size" db:"size"`
	StorageKey       string    `json:"storage_key" db:"storage_key"`
	PageCount        int       `json:"page_count" db:"page_count"`
	OCRStatus        OCRStatus `json:"ocr_status" db:"ocr_status"`
	RecognizedFields int       `json:"recognized_fields" db:"recognized_fields"`
	MergedFields     int       `json:"merged_fields" db:"merged_fields"`
	ReviewFields     []string  `json:"review_fields,omitempty"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
