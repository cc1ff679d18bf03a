package models

import (
	"fmt"
	"strings"
)

// ValidationError reports one or more schema violations on ficha fields. It is
// surfaced immediately to the caller and never retried.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Add(msg string) {
	e.Violations = append(e.Violations, msg)
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// TemplateValidationError reports every violation found while mapping a draft
// into a canonical template, so all issues can be fixed in one pass.
type TemplateValidationError struct {
	Violations []string
}

func (e *TemplateValidationError) Add(msg string) {
	e.Violations = append(e.Violations, msg)
}

func (e *TemplateValidationError) Error() string {
	return "template validation failed: " + strings.Join(e.Violations, "; ")
}

// ConflictError signals a stale revision on an optimistic update. The caller
// must re-read the ficha and retry against the current revision.
type ConflictError struct {
	FichaID          string
	ExpectedRevision int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ficha %s: revision %d is stale", e.FichaID, e.ExpectedRevision)
}

// InvalidTransitionError rejects a lifecycle move the state machine does not
// allow.
type InvalidTransitionError struct {
	FichaID string
	From    FichaStatus
	To      FichaStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ficha %s: cannot transition from %s to %s", e.FichaID, e.From, e.To)
}

// ImmutableRecordError rejects a mutation of a finalized or archived ficha.
type ImmutableRecordError struct {
	FichaID string
	Status  FichaStatus
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("ficha %s is %s and cannot be modified", e.FichaID, e.Status)
}

// TemplateNotFoundError is returned by the registry for an unknown name or
// version. Version 0 means "latest".
type TemplateNotFoundError struct {
	Name    string
	Version int
}

func (e *TemplateNotFoundError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("template %q not found", e.Name)
	}
	return fmt.Sprintf("template %q version %d not found", e.Name, e.Version)
}

// NotFoundError is returned for lookups of unknown fichas or attachments.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
