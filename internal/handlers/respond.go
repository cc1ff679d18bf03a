package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openarquivo/fichas-api/internal/extractor"
	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/utils"
)

func respondJSON(w http.ResponseWriter, logger *utils.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}

type errorBody struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// respondError maps domain errors onto HTTP statuses. Validation problems are
// 422 with the full violation list, stale revisions and illegal transitions
// are 409, missing records 404.
func respondError(w http.ResponseWriter, logger *utils.Logger, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: "Internal server error"}

	var (
		appErr       *utils.AppError
		valErr       *models.ValidationError
		tmplValErr   *models.TemplateValidationError
		conflictErr  *models.ConflictError
		immutableErr *models.ImmutableRecordError
		transErr     *models.InvalidTransitionError
		tmplNotFound *models.TemplateNotFoundError
		notFound     *models.NotFoundError
		unsupported  *extractor.UnsupportedDocumentError
	)

	switch {
	case errors.As(err, &appErr):
		status = appErr.StatusCode
		body.Error = appErr.Message
	case errors.As(err, &valErr):
		status = http.StatusUnprocessableEntity
		body.Error = "validation failed"
		body.Violations = valErr.Violations
	case errors.As(err, &tmplValErr):
		status = http.StatusUnprocessableEntity
		body.Error = "template validation failed"
		body.Violations = tmplValErr.Violations
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
		body.Error = err.Error()
	case errors.As(err, &immutableErr):
		status = http.StatusConflict
		body.Error = err.Error()
	case errors.As(err, &transErr):
		status = http.StatusConflict
		body.Error = err.Error()
	case errors.As(err, &tmplNotFound):
		status = http.StatusNotFound
		body.Error = err.Error()
	case errors.As(err, &notFound):
		status = http.StatusNotFound
		body.Error = err.Error()
	case errors.As(err, &unsupported):
		status = http.StatusUnprocessableEntity
		body.Error = err.Error()
	}

	logger.Error("Request error", "status", status, "error", err)
	respondJSON(w, logger, status, body)
}
